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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/Yuehuaer/IMG-TGBed/pkg/storage"
	"github.com/Yuehuaer/IMG-TGBed/pkg/telegram"
	"github.com/Yuehuaer/IMG-TGBed/pkg/util"
)

// maxCaptionLen is the Bot API's caption limit.
const maxCaptionLen = 1024

// IngestResult reports the outcome for one requested URL. One item's
// failure never aborts its siblings.
type IngestResult struct {
	URL      string `json:"url"`
	Success  bool   `json:"success"`
	Src      string `json:"src,omitempty"`
	FileName string `json:"fileName,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ingestRequestItem is decoded field-by-field so one malformed item cannot
// take down the batch. url must be a string; anything else is rejected per
// item.
type ingestRequestItem struct {
	URL   any `json:"url"`
	Title any `json:"title"`
}

var extPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// fileExtension extracts the suffix of the URL's last path segment after
// the final dot, lowercased. Missing, non-alphanumeric, or unparsable
// inputs default to jpg.
func fileExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "jpg"
	}
	seg := u.Path
	if i := strings.LastIndex(seg, "/"); i >= 0 {
		seg = seg[i+1:]
	}
	if i := strings.LastIndex(seg, "."); i >= 0 && i+1 < len(seg) {
		ext := strings.ToLower(seg[i+1:])
		if extPattern.MatchString(ext) {
			return ext
		}
	}
	return "jpg"
}

// ingestErrorMessage maps a SendPhoto failure to the per-item error string.
func ingestErrorMessage(err error) string {
	var apiErr *telegram.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	if errors.Is(err, telegram.ErrInvalidResponse) {
		return telegram.ErrInvalidResponse.Error()
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "network error"
}

// largestPhoto picks the variant with the largest reported file size.
// Strict greater-than keeps the earlier element on equal sizes.
func largestPhoto(photos []telegram.PhotoSize) *telegram.PhotoSize {
	var best *telegram.PhotoSize
	for i := range photos {
		if best == nil || photos[i].FileSize > best.FileSize {
			best = &photos[i]
		}
	}
	return best
}

func truncateCaption(s string) string {
	runes := []rune(s)
	if len(runes) <= maxCaptionLen {
		return s
	}
	return string(runes[:maxCaptionLen])
}

// ingestOne forwards one external URL to the bot API and persists the
// resulting record. It never returns an error; every failure path resolves
// to an IngestResult with Success=false and a readable message.
func (h *Handler) ingestOne(ctx context.Context, raw json.RawMessage, origin string) IngestResult {
	var item ingestRequestItem
	// Decode failures leave zero values, caught by the url check below.
	_ = json.Unmarshal(raw, &item)

	srcURL, isString := item.URL.(string)
	res := IngestResult{URL: srcURL}
	if !isString && item.URL != nil {
		// The result echoes whatever the caller sent, even when it is
		// not a usable string.
		res.URL = fmt.Sprint(item.URL)
	}

	if strings.TrimSpace(srcURL) == "" {
		res.Error = "missing or invalid url"
		return res
	}

	title, _ := item.Title.(string)
	title = strings.TrimSpace(title)
	ext := fileExtension(srcURL)

	msg, err := h.bot.SendPhoto(ctx, h.chatID, strings.TrimSpace(srcURL), truncateCaption(title))
	if err != nil {
		res.Error = ingestErrorMessage(err)
		return res
	}

	best := largestPhoto(msg.Photo)
	if best == nil || best.FileID == "" {
		res.Error = "no file_id in response"
		return res
	}

	key := best.FileID + "." + ext

	fileName := title
	if fileName == "" {
		fileName = fmt.Sprintf("image_%s.%s", util.GenerateRandomString(8), ext)
	}

	if h.store != nil {
		now := time.Now().UnixMilli()
		meta := &storage.Metadata{
			TimeStamp:   &now,
			ListType:    "None",
			Label:       "None",
			Liked:       false,
			FileName:    fileName,
			FileSize:    best.FileSize,
			StorageType: "telegram",
			MessageID:   msg.MessageID,
		}
		// A record that failed to persist is not reachable through the
		// listing, so the item is reported failed.
		if err := h.store.PutRecord(ctx, key, "", meta); err != nil {
			res.Error = "failed to save record: " + err.Error()
			return res
		}
	}

	res.Success = true
	res.Src = fileURL(origin, key)
	res.FileName = fileName
	return res
}
