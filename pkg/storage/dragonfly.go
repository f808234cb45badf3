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

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	// recordPrefix namespaces record hashes in the shared keyspace.
	recordPrefix = "img:"

	// listPageSize is the SCAN count hint, matching the store's own
	// per-call listing limit.
	listPageSize = 1000
)

// DragonflyStorage implements the Storage interface using Dragonfly/Redis.
// Each record is a hash with a "value" field (raw text payload) and a
// "metadata" field (JSON-encoded Metadata); either field may be absent.
type DragonflyStorage struct {
	client redis.Cmdable
}

// NewDragonflyStorage creates a new instance of DragonflyStorage.
// It returns a Storage interface, hiding the implementation details.
func NewDragonflyStorage(addr string) (Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})
	// Check the connection.
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &DragonflyStorage{client: client}, nil
}

// ListKeys implements the Storage interface via SCAN. The cursor is the
// SCAN cursor rendered as a base-10 string; empty means start (and, on
// return, end) of enumeration.
func (d *DragonflyStorage) ListKeys(ctx context.Context, cursor string) ([]string, string, error) {
	var start uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		start = parsed
	}

	keys, next, err := d.client.Scan(ctx, start, recordPrefix+"*", listPageSize).Result()
	if err != nil {
		return nil, "", err
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, recordPrefix))
	}

	if next == 0 {
		return names, "", nil
	}
	return names, strconv.FormatUint(next, 10), nil
}

// GetRecord implements the Storage interface.
func (d *DragonflyStorage) GetRecord(ctx context.Context, name string) (*Record, error) {
	fields, err := d.client.HGetAll(ctx, recordPrefix+name).Result()
	if err != nil {
		return nil, err
	}

	rec := &Record{Name: name}
	if v, ok := fields["value"]; ok {
		rec.Value = &v
	}
	if raw, ok := fields["metadata"]; ok {
		var meta Metadata
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %q: %w", name, err)
		}
		rec.Metadata = &meta
	}
	return rec, nil
}

// PutRecord implements the Storage interface.
func (d *DragonflyStorage) PutRecord(ctx context.Context, name string, value string, meta *Metadata) error {
	if meta == nil {
		return errors.New("metadata cannot be nil")
	}
	jsonMetadata, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return d.client.HSet(ctx, recordPrefix+name, "value", value, "metadata", string(jsonMetadata)).Err()
}

// Close closes storage connections.
func (d *DragonflyStorage) Close() error {
	if client, ok := d.client.(*redis.Client); ok {
		return client.Close()
	}
	if client, ok := d.client.(*redis.ClusterClient); ok {
		return client.Close()
	}
	return nil
}
