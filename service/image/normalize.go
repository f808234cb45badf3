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
	"net/url"
	"strconv"
	"strings"

	"github.com/Yuehuaer/IMG-TGBed/pkg/storage"
)

// ListingItem is the caller-facing projection of one stored record,
// computed fresh per list request.
type ListingItem struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	FileName    string `json:"fileName"`
	UploadTime  *int64 `json:"uploadTime"`
	StorageType string `json:"storageType,omitempty"`
}

// legacyPayload is the alternate field set some old records carry in their
// value string. Timestamps arrive as numbers or strings, hence any.
type legacyPayload struct {
	FileName   string `json:"fileName"`
	UploadTime any    `json:"uploadTime"`
	TimeStamp  any    `json:"TimeStamp"`
}

// parseLegacyPayload decodes a record's value string. A missing, blank, or
// malformed payload is reported as absent, never as an error.
func parseLegacyPayload(value *string) (legacyPayload, bool) {
	if value == nil {
		return legacyPayload{}, false
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return legacyPayload{}, false
	}
	var p legacyPayload
	if err := json.Unmarshal([]byte(trimmed), &p); err != nil {
		return legacyPayload{}, false
	}
	return p, true
}

// coerceTimestamp turns a resolved timestamp of any stored shape into an
// integer. Unparsable strings yield nil.
func coerceTimestamp(v any) *int64 {
	switch t := v.(type) {
	case int64:
		return &t
	case float64:
		n := int64(t)
		return &n
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil
		}
		return &n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return nil
		}
		return &n
	default:
		return nil
	}
}

// normalizeRecord merges store-native metadata with the optional legacy
// value payload into one ListingItem.
//
// Field precedence:
//   - fileName: metadata fileName, then payload fileName, then the key.
//   - uploadTime: metadata TimeStamp, then payload uploadTime, then payload
//     TimeStamp; the first present value wins and is then coerced.
//   - storageType: echoed only when present in metadata.
func normalizeRecord(origin, name string, meta *storage.Metadata, value *string) ListingItem {
	payload, _ := parseLegacyPayload(value)

	item := ListingItem{
		Key: name,
		URL: fileURL(origin, name),
	}

	switch {
	case meta != nil && meta.FileName != "":
		item.FileName = meta.FileName
	case payload.FileName != "":
		item.FileName = payload.FileName
	default:
		item.FileName = name
	}

	switch {
	case meta != nil && meta.TimeStamp != nil:
		item.UploadTime = coerceTimestamp(*meta.TimeStamp)
	case payload.UploadTime != nil:
		item.UploadTime = coerceTimestamp(payload.UploadTime)
	case payload.TimeStamp != nil:
		item.UploadTime = coerceTimestamp(payload.TimeStamp)
	}

	if meta != nil {
		item.StorageType = meta.StorageType
	}

	return item
}

// fileURL builds the serving URL for a record key.
func fileURL(origin, key string) string {
	return origin + "/file/" + url.PathEscape(key)
}
