package main

import (
	"fmt"
	"path"
	"sort"
	"strings"

	sgdiff "github.com/sourcegraph/go-diff/diff"

	"github.com/gantryci/gantry/model"
)

// changedFiles extracts the paths touched by a unified diff. Renames and
// deletions contribute both sides so trigger patterns can match either.
func changedFiles(patch []byte) ([]string, error) {
	fileDiffs, err := sgdiff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("could not parse change set: %w", err)
	}
	seen := map[string]bool{}
	for _, fd := range fileDiffs {
		for _, name := range []string{fd.OrigName, fd.NewName} {
			name = strings.TrimPrefix(strings.TrimPrefix(name, "a/"), "b/")
			if name == "" || name == "/dev/null" {
				continue
			}
			seen[name] = true
		}
	}
	files := make([]string, 0, len(seen))
	for name := range seen {
		files = append(files, name)
	}
	sort.Strings(files)
	return files, nil
}

// pipelineAffected reports whether any changed file matches the pipeline
// trigger paths. A pipeline without trigger paths always runs.
func pipelineAffected(pipeline *model.Pipeline, changed []string) bool {
	if pipeline == nil || pipeline.Triggers == nil || len(pipeline.Triggers.Paths) == 0 {
		return true
	}
	for _, pattern := range pipeline.Triggers.Paths {
		for _, name := range changed {
			if pathMatches(pattern, name) {
				return true
			}
		}
	}
	return false
}

// pathMatches applies a trigger glob to a changed file path. On top of plain
// path.Match semantics, a trailing "/**" matches any file under the prefix
// and a leading "**/" matches the base name at any depth.
func pathMatches(pattern, name string) bool {
	if ok, err := path.Match(pattern, name); err == nil && ok {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if name == prefix || strings.HasPrefix(name, prefix+"/") {
			return true
		}
	}
	if strings.HasPrefix(pattern, "**/") {
		ok, err := path.Match(strings.TrimPrefix(pattern, "**/"), path.Base(name))
		return err == nil && ok
	}
	return false
}
