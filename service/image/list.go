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

	"golang.org/x/sync/errgroup"

	"github.com/Yuehuaer/IMG-TGBed/pkg/storage"
)

// fetchBatchSize bounds concurrent metadata retrievals per batch.
const fetchBatchSize = 50

// walkKeys drains the store's enumeration from the given cursor, page by
// page, until the store reports completion.
func walkKeys(ctx context.Context, store storage.Storage, cursor string) ([]string, error) {
	var names []string
	for {
		page, next, err := store.ListKeys(ctx, cursor)
		if err != nil {
			return nil, err
		}
		names = append(names, page...)
		if next == "" {
			return names, nil
		}
		cursor = next
	}
}

// fetchRecords retrieves every named record in contiguous batches of
// fetchBatchSize. All retrievals within a batch run concurrently; batches
// run strictly in order. Output order follows input order regardless of
// completion timing. Any single failure fails the whole fetch.
func fetchRecords(ctx context.Context, store storage.Storage, names []string) ([]*storage.Record, error) {
	records := make([]*storage.Record, len(names))
	for start := 0; start < len(names); start += fetchBatchSize {
		end := min(start+fetchBatchSize, len(names))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				rec, err := store.GetRecord(gctx, names[i])
				if err != nil {
					return err
				}
				records[i] = rec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return records, nil
}
