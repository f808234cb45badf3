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

// Package telegram is a minimal Bot API client covering the calls the
// gateway needs: sendPhoto for ingestion, getFile and file download for
// serving.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrInvalidResponse reports a response body that could not be decoded.
var ErrInvalidResponse = errors.New("invalid response from Telegram")

// APIError is a Bot API response with ok=false or a missing result.
type APIError struct {
	Description string
}

func (e *APIError) Error() string {
	if e.Description != "" {
		return e.Description
	}
	return "Telegram API error"
}

// PhotoSize is one resolution variant of an ingested photo.
type PhotoSize struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Message is the result payload of sendPhoto.
type Message struct {
	MessageID int64       `json:"message_id"`
	Photo     []PhotoSize `json:"photo"`
}

// File is the result payload of getFile.
type File struct {
	FileID   string `json:"file_id"`
	FileSize int64  `json:"file_size"`
	FilePath string `json:"file_path"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// ClientOptions configures NewClient. BaseURL and HTTPClient exist for
// tests; both default to the production Bot API.
type ClientOptions struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		token:      opts.Token,
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

// SendPhoto forwards an external photo URL to a chat and returns the
// resulting message. Transport failures are returned as-is, undecodable
// bodies as ErrInvalidResponse, and rejected requests as *APIError.
func (c *Client) SendPhoto(ctx context.Context, chatID, photoURL, caption string) (*Message, error) {
	payload := map[string]string{
		"chat_id": chatID,
		"photo":   photoURL,
	}
	if caption != "" {
		payload["caption"] = caption
	}

	var msg Message
	if err := c.call(ctx, "sendPhoto", payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetFile resolves a file identifier to a download path on the API's file
// host.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var file File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// Download streams the bytes behind a path returned by GetFile. The caller
// owns the returned reader.
func (c *Client) Download(ctx context.Context, filePath string) (io.ReadCloser, string, error) {
	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("file download failed with status %d", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return ErrInvalidResponse
	}
	if !apiResp.OK || len(apiResp.Result) == 0 {
		return &APIError{Description: apiResp.Description}
	}
	if err := json.Unmarshal(apiResp.Result, result); err != nil {
		return ErrInvalidResponse
	}
	return nil
}
