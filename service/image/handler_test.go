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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Yuehuaer/IMG-TGBed/pkg/cors"
	"github.com/Yuehuaer/IMG-TGBed/pkg/storage"
	"github.com/Yuehuaer/IMG-TGBed/pkg/telegram"
)

func decodeError(t *testing.T, body io.Reader) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

func TestAuthorization(t *testing.T) {
	testCases := []struct {
		name       string
		secret     string
		credential string
		want       bool
	}{
		{"no secret, no credential", "", "", true},
		{"no secret, any credential", "", "whatever", true},
		{"secret, exact match", "s3cret", "s3cret", true},
		{"secret, wrong credential", "s3cret", "nope", false},
		{"secret, empty credential", "s3cret", "", false},
		{"secret, prefix only", "s3cret", "s3c", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(Options{AuthSecret: tc.secret})
			if got := h.authorized(tc.credential); got != tc.want {
				t.Errorf("authorized(%q) with secret %q = %v, want %v", tc.credential, tc.secret, got, tc.want)
			}
		})
	}
}

func TestUploadCredential(t *testing.T) {
	testCases := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query param wins", "/api/upload?pwd=frompwd", "Bearer fromheader", "frompwd"},
		{"bearer fallback", "/api/upload", "Bearer fromheader", "fromheader"},
		{"bearer with padding", "/api/upload", "Bearer   padded  ", "padded"},
		{"no credential", "/api/upload", "", ""},
		{"non-bearer header ignored", "/api/upload", "Basic dXNlcg==", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, tc.target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := uploadCredential(r); got != tc.want {
				t.Errorf("uploadCredential() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestList_Unauthorized(t *testing.T) {
	h := NewHandler(Options{Store: newFakeStore(), AuthSecret: "s3cret"})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/list?pwd=wrong", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if msg := decodeError(t, rec.Body); msg != "Unauthorized" {
		t.Errorf("error = %q, want Unauthorized", msg)
	}
}

func TestList_StoreNotConfigured(t *testing.T) {
	h := NewHandler(Options{})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/list", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec.Body); msg != "KV namespace img_url not configured" {
		t.Errorf("error = %q", msg)
	}
}

func TestList_EndToEnd(t *testing.T) {
	ts := int64(1700000000000)
	metaJSON := storage.Metadata{TimeStamp: &ts, FileName: "cat.jpg", StorageType: "telegram"}

	store := newFakeStore()
	store.pages[""] = listPage{names: []string{"a.jpg", "b.png"}, next: "c1"}
	store.pages["c1"] = listPage{names: []string{"c"}, next: ""}
	store.records["a.jpg"] = &storage.Record{Name: "a.jpg", Metadata: &metaJSON}
	store.records["b.png"] = &storage.Record{Name: "b.png", Value: strPtr(`{"fileName":"legacy.png","uploadTime":"123"}`)}

	h := NewHandler(Options{Store: store, AuthSecret: "s3cret", BaseURL: "https://img.example"})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/list?pwd=s3cret", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp listResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 3 || len(resp.List) != 3 {
		t.Fatalf("total = %d, len = %d, want 3", resp.Total, len(resp.List))
	}

	first := resp.List[0]
	if first.Key != "a.jpg" || first.FileName != "cat.jpg" || first.StorageType != "telegram" {
		t.Errorf("first item = %+v", first)
	}
	if first.URL != "https://img.example/file/a.jpg" {
		t.Errorf("first url = %q", first.URL)
	}
	if first.UploadTime == nil || *first.UploadTime != ts {
		t.Errorf("first uploadTime = %v, want %d", first.UploadTime, ts)
	}

	second := resp.List[1]
	if second.FileName != "legacy.png" {
		t.Errorf("second fileName = %q, want the value payload's", second.FileName)
	}
	if second.UploadTime == nil || *second.UploadTime != 123 {
		t.Errorf("second uploadTime = %v, want 123", second.UploadTime)
	}

	third := resp.List[2]
	if third.FileName != "c" || third.UploadTime != nil {
		t.Errorf("third item = %+v, want bare key projection", third)
	}
}

func TestList_FetchFailureFailsRequest(t *testing.T) {
	store := newFakeStore()
	store.pages[""] = listPage{names: []string{"ok", "bad"}, next: ""}
	store.getErr["bad"] = io.ErrUnexpectedEOF

	h := NewHandler(Options{Store: store})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/list", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec.Body); msg == "" {
		t.Error("expected the underlying error message")
	}
}

func TestUpload_BadRequests(t *testing.T) {
	h := NewHandler(Options{
		Bot:    telegram.NewClient(telegram.ClientOptions{Token: "TEST"}),
		ChatID: "12345",
	})

	testCases := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing list", `{}`},
		{"empty list", `{"list":[]}`},
		{"list not an array", `{"list":"abc"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(tc.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestUpload_BotNotConfigured(t *testing.T) {
	h := NewHandler(Options{})

	rec := httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{"list":[{"url":"https://x.com/a.jpg"}]}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestUpload_MixedBatchKeepsOrder(t *testing.T) {
	srv := fakeTelegram(t, map[string]string{
		"https://x.com/1.jpg": sendPhotoOK,
		"https://x.com/2.jpg": `{"ok":false,"description":"flaky"}`,
		"https://x.com/3.jpg": sendPhotoOK,
	})
	defer srv.Close()

	store := newFakeStore()
	h := NewHandler(Options{
		Store:   store,
		Bot:     telegram.NewClient(telegram.ClientOptions{Token: "TEST", BaseURL: srv.URL}),
		ChatID:  "12345",
		BaseURL: "https://img.example",
	})

	body := `{"list":[{"url":"https://x.com/1.jpg"},{"url":"https://x.com/2.jpg"},{"url":"https://x.com/3.jpg"}]}`
	rec := httptest.NewRecorder()
	h.Upload(rec, httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}

	for i, wantURL := range []string{"https://x.com/1.jpg", "https://x.com/2.jpg", "https://x.com/3.jpg"} {
		if resp.Results[i].URL != wantURL {
			t.Errorf("results[%d].url = %q, want %q", i, resp.Results[i].URL, wantURL)
		}
	}
	if !resp.Results[0].Success || !resp.Results[2].Success {
		t.Error("items 1 and 3 should succeed")
	}
	if resp.Results[1].Success {
		t.Error("item 2 should fail")
	}
	if resp.Results[1].Error != "flaky" {
		t.Errorf("item 2 error = %q", resp.Results[1].Error)
	}
	for _, i := range []int{0, 2} {
		if !strings.HasPrefix(resp.Results[i].Src, "https://img.example/file/") {
			t.Errorf("results[%d].src = %q, want a serving URL", i, resp.Results[i].Src)
		}
	}
	if len(store.puts) != 2 {
		t.Errorf("store writes = %d, want 2", len(store.puts))
	}
}

func TestPreflight(t *testing.T) {
	h := NewHandler(Options{AuthSecret: "s3cret"})

	mux := http.NewServeMux()
	mux.HandleFunc("/api/list", h.List)
	mux.HandleFunc("/api/upload", h.Upload)
	wrapped := cors.NewCORS().Handler(mux)

	for _, target := range []string{"/api/list", "/api/upload"} {
		req := httptest.NewRequest(http.MethodOptions, target, nil)
		req.Header.Set("Origin", "https://frontend.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		// Browsers send the requested header names lowercased.
		req.Header.Set("Access-Control-Request-Headers", "content-type")

		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: status = %d, want 204", target, rec.Code)
		}
		if rec.Body.Len() != 0 {
			t.Errorf("%s: preflight response has a body", target)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("%s: Access-Control-Allow-Origin = %q, want *", target, got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
			t.Errorf("%s: Access-Control-Max-Age = %q, want 86400", target, got)
		}
	}
}

func TestServeFile(t *testing.T) {
	var mux http.ServeMux
	mux.HandleFunc("/botTEST/getFile", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"file_id":"abc","file_path":"photos/file_1.jpg","file_size":3}}`))
	})
	mux.HandleFunc("/file/botTEST/photos/file_1.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("IMG"))
	})
	srv := httptest.NewServer(&mux)
	defer srv.Close()

	h := NewHandler(Options{
		Bot: telegram.NewClient(telegram.ClientOptions{Token: "TEST", BaseURL: srv.URL}),
	})

	rec := httptest.NewRecorder()
	h.ServeFile(rec, httptest.NewRequest(http.MethodGet, "/file/abc.jpg", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "IMG" {
		t.Errorf("body = %q, want IMG", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want image/jpeg", got)
	}
}

func TestServeFile_NotFound(t *testing.T) {
	h := NewHandler(Options{
		Bot: telegram.NewClient(telegram.ClientOptions{Token: "TEST", BaseURL: "http://127.0.0.1:1"}),
	})

	for _, target := range []string{"/file/", "/file/a/b.jpg"} {
		rec := httptest.NewRecorder()
		h.ServeFile(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
	}
}
