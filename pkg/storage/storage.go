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

package storage

import "context"

// Metadata is the structured attribute bag stored alongside a record key.
// JSON field names follow the legacy stored shape and must not change.
type Metadata struct {
	TimeStamp   *int64 `json:"TimeStamp,omitempty"`
	ListType    string `json:"ListType,omitempty"`
	Label       string `json:"Label,omitempty"`
	Liked       bool   `json:"liked"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	StorageType string `json:"storageType,omitempty"`
	MessageID   int64  `json:"messageId,omitempty"`
}

// Record is one stored entry. Value and Metadata are independently
// optional: either, both, or neither may be present for a given name.
type Record struct {
	Name     string
	Value    *string
	Metadata *Metadata
}

// Storage defines the interface for all record store operations.
// This allows for decoupling the business logic from the concrete storage
// implementation.
type Storage interface {
	// ListKeys returns one page of record names starting at the opaque
	// cursor (empty means the beginning). The returned cursor is empty
	// when enumeration is complete.
	ListKeys(ctx context.Context, cursor string) (names []string, next string, err error)

	// GetRecord retrieves one record by name. A name with no stored
	// fields yields a Record with nil Value and Metadata, not an error.
	GetRecord(ctx context.Context, name string) (*Record, error)

	// PutRecord writes a record's value and metadata under the given name.
	PutRecord(ctx context.Context, name string, value string, meta *Metadata) error
}
