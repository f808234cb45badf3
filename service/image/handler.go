// Copyright 2025 The IMG-TGBed Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package image

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/Yuehuaer/IMG-TGBed/pkg/fwlog"
	"github.com/Yuehuaer/IMG-TGBed/pkg/storage"
	"github.com/Yuehuaer/IMG-TGBed/pkg/telegram"
)

// Handler serves the listing, ingestion and file endpoints. Every request
// is stateless; the struct only carries config-derived collaborators, any
// of which may be nil when unconfigured.
type Handler struct {
	store   storage.Storage
	bot     *telegram.Client
	cache   *storage.MediaCache
	chatID  string
	secret  string
	baseURL string
}

// Options configures NewHandler. Store, Bot and Cache are optional; the
// endpoints that need a missing collaborator answer with a configuration
// error instead.
type Options struct {
	Store      storage.Storage
	Bot        *telegram.Client
	Cache      *storage.MediaCache
	ChatID     string
	AuthSecret string

	// BaseURL overrides the serving origin in generated URLs. When empty
	// the origin is derived from each request.
	BaseURL string
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		store:   opts.Store,
		bot:     opts.Bot,
		cache:   opts.Cache,
		chatID:  opts.ChatID,
		secret:  opts.AuthSecret,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

type listResponse struct {
	List  []ListingItem `json:"list"`
	Total int           `json:"total"`
}

type uploadRequest struct {
	List []json.RawMessage `json:"list"`
}

type uploadResponse struct {
	Results []IngestResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// authorized implements the shared-secret check: auth is opt-in, so an
// empty configured secret always passes; otherwise the presented
// credential must match exactly.
func (h *Handler) authorized(credential string) bool {
	return h.secret == "" || credential == h.secret
}

// uploadCredential resolves the ingestion credential: a non-empty pwd
// query parameter wins, else the bearer header value with the prefix
// stripped and trimmed.
func uploadCredential(r *http.Request) string {
	if pwd := r.URL.Query().Get("pwd"); pwd != "" {
		return pwd
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer"))
	}
	return ""
}

// origin is the serving origin used when constructing file URLs.
func (h *Handler) origin(r *http.Request) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// List handles GET /api/list: walk the whole key space from the supplied
// cursor, fetch every record's metadata in bounded batches, and return the
// normalized projection.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r.URL.Query().Get("pwd")) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if h.store == nil {
		writeError(w, http.StatusInternalServerError, "KV namespace img_url not configured")
		return
	}

	ctx := r.Context()

	names, err := walkKeys(ctx, h.store, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	records, err := fetchRecords(ctx, h.store, names)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	origin := h.origin(r)
	items := make([]ListingItem, 0, len(records))
	for _, rec := range records {
		items = append(items, normalizeRecord(origin, rec.Name, rec.Metadata, rec.Value))
	}

	writeJSON(w, http.StatusOK, listResponse{List: items, Total: len(items)})
}

// Upload handles POST /api/upload: forward each requested URL to the bot
// API, strictly sequentially, and report one result per item in input
// order regardless of individual failures.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(uploadCredential(r)) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	if h.bot == nil || h.chatID == "" {
		writeError(w, http.StatusInternalServerError, "Telegram botToken or chatID not configured")
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.List) == 0 {
		writeError(w, http.StatusBadRequest, "list must be a non-empty array")
		return
	}

	origin := h.origin(r)
	results := make([]IngestResult, 0, len(req.List))
	for _, raw := range req.List {
		results = append(results, h.ingestOne(r.Context(), raw, origin))
	}

	writeJSON(w, http.StatusOK, uploadResponse{Results: results})
}

// ServeFile handles GET /file/{key}: resolve the provider file id from the
// key, stream the bytes from the bot API, and fill the media cache on a
// miss when one is configured.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/file/"))
	if err != nil || key == "" || strings.Contains(key, "/") {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	ctx := r.Context()

	if h.cache != nil {
		if body, contentType, err := h.cache.Get(ctx, key); err == nil {
			defer func() { _ = body.Close() }()
			serveBody(w, contentType, body)
			return
		}
	}

	if h.bot == nil {
		writeError(w, http.StatusInternalServerError, "Telegram botToken or chatID not configured")
		return
	}

	// The key is the provider file id, optionally suffixed with a file
	// extension at ingestion time.
	fileID := key
	ext := ""
	if i := strings.LastIndex(key, "."); i > 0 {
		fileID = key[:i]
		ext = key[i:]
	}

	file, err := h.bot.GetFile(ctx, fileID)
	if err != nil {
		fwlog.Warnf("getFile %s failed: %v", fileID, err)
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	body, contentType, err := h.bot.Download(ctx, file.FilePath)
	if err != nil {
		fwlog.Errorf("download %s failed: %v", file.FilePath, err)
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	defer func() { _ = body.Close() }()

	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}

	if h.cache == nil {
		serveBody(w, contentType, body)
		return
	}

	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream fetch failed")
		return
	}
	if err := h.cache.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		fwlog.Warnf("media cache fill for %s failed: %v", key, err)
	}
	serveBody(w, contentType, bytes.NewReader(data))
}

func serveBody(w http.ResponseWriter, contentType string, body io.Reader) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, body); err != nil {
		fwlog.Warnf("write response failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fwlog.Warnf("write response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
