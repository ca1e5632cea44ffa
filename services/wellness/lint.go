// Copyright (C) 2025 Pollen Hive (dev@pollenhive.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wellness

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// FileLintResult is the validation outcome for one file in a unified
// diff.
type FileLintResult struct {
	File       string           `json:"file"`
	LinesAdded int              `json:"lines_added"`
	Result     ValidationResult `json:"result"`
}

// LintDiff validates the added lines of a unified diff, file by file.
//
// This is the editor-bridge entry point: IDE plugins submit the working
// diff and get per-file results back. Only added lines are assembled
// and validated; removed code cannot introduce new anti-patterns.
// Deleted files are skipped.
func (v *Validator) LintDiff(ctx context.Context, patch string, bio BiometricContext) ([]FileLintResult, error) {
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("invalid diff format: %w", err)
	}
	if len(fileDiffs) == 0 {
		return nil, fmt.Errorf("no file diffs found in patch")
	}

	results := make([]FileLintResult, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		path := fd.NewName
		if path == "" || path == "/dev/null" {
			continue
		}
		path = strings.TrimPrefix(path, "b/")

		var added []string
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if strings.HasPrefix(line, "+") {
					added = append(added, strings.TrimPrefix(line, "+"))
				}
			}
		}
		if len(added) == 0 {
			continue
		}

		fragment := strings.Join(added, "\n")
		results = append(results, FileLintResult{
			File:       path,
			LinesAdded: len(added),
			Result:     v.Validate(ctx, fragment, bio),
		})
	}
	return results, nil
}
