// Package importer reads transaction logs from broker export files into
// normalized records. CSV and JSON exports are supported; the format is
// picked by file extension.
package importer

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"tradechains/internal/txn"
)

// File is one imported source file.
type File struct {
	Path    string
	Records []txn.Record
	// Raws are the original row payloads as JSON, aligned with Records.
	// Empty for formats that have no natural raw form.
	Raws [][]byte
}

// ReadFile imports a single file, validating every row.
func ReadFile(path string) (*File, error) {
	var (
		records []txn.Record
		raws    [][]byte
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = readCSV(path)
	case ".json":
		records, raws, err = readJSON(path)
	default:
		return nil, fmt.Errorf("importer: unsupported file type %q", path)
	}
	if err != nil {
		return nil, err
	}
	if err := txn.Validate(records); err != nil {
		return nil, fmt.Errorf("importer: %s: %w", path, err)
	}
	return &File{Path: path, Records: records, Raws: raws}, nil
}

// Expand resolves the configured globs to a sorted, deduplicated file list.
func Expand(globs []string) ([]string, error) {
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range globs {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("importer: bad glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				paths = append(paths, m)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}
