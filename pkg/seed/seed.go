// Copyright 2025 topfuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package seed ingests user-provided seed inputs before fuzzing starts:
// every regular file in the seed directory is executed once under the
// tracer and the resulting executions enter the knowledge ring.
package seed

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/topfuzz/topfuzz/pkg/flow"
	"github.com/topfuzz/topfuzz/pkg/fuzzer"
	"github.com/topfuzz/topfuzz/pkg/knowledge"
	"github.com/topfuzz/topfuzz/pkg/log"
)

// LoadDir executes every file in dir (truncated to maxLen bytes) and
// inserts the distinct results into the store. Unreadable or empty files
// are skipped with a warning. Returns the number of executions inserted.
func LoadDir(ctx context.Context, dir string, maxLen int, store *knowledge.Store, exec fuzzer.Executor) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Logf(0, "seed %v: unreadable, skipped: %v", name, err)
			continue
		}
		if len(data) == 0 {
			log.Logf(0, "seed %v: empty, skipped", name)
			continue
		}
		if len(data) > maxLen {
			data = data[:maxLen]
		}
		res, err := exec.Run(ctx, flow.Input(data))
		if err != nil {
			return loaded, fmt.Errorf("seed %v: %w", name, err)
		}
		if len(res.Trace) == 0 {
			log.Logf(1, "seed %v: produced no trace, skipped", name)
			continue
		}
		if store.TryInsert(flow.Execution{Input: data, Trace: res.Trace}) {
			loaded++
		}
	}
	log.Logf(0, "loaded %v seed inputs from %v", loaded, dir)
	return loaded, nil
}
