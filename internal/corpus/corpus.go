// Package corpus enumerates the event log corpus and maps log paths to result file names.
package corpus

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// ErrNoFiles is returned by Index when no log file matched.
var ErrNoFiles = errors.New("no log files found")

// File is one log file of the corpus.
type File struct {
	// Path is the on-disk path, usable with os.Open.
	Path string `json:"path"`
	// RelPath is the path relative to the corpus root, always slash separated.
	RelPath string `json:"rel_path"`
}

// Options controls Index.
type Options struct {
	// Extension is matched case-insensitively, including the leading dot.
	Extension string
	// Exclude holds glob patterns matched against RelPath.
	Exclude []string
	// Limit truncates the sorted list when > 0.
	Limit int
}

// Index walks root and returns the matching log files sorted by RelPath.
func Index(root string, opts Options) ([]File, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("log directory %s is not a directory", root)
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", opts.Limit)
	}

	ext := strings.ToLower(opts.Extension)
	excludes := make([]glob.Glob, 0, len(opts.Exclude))
	for _, pattern := range opts.Exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		excludes = append(excludes, g)
	}

	var files []File
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if ext != "" && strings.ToLower(filepath.Ext(path)) != ext {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, g := range excludes {
			if g.Match(rel) {
				return nil
			}
		}
		files = append(files, File{Path: path, RelPath: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })

	if opts.Limit > 0 && len(files) > opts.Limit {
		files = files[:opts.Limit]
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s (extension %s)", ErrNoFiles, root, opts.Extension)
	}
	return files, nil
}

// FindFirst returns the lexicographically first file directly inside dir whose
// name matches pattern. It returns "" when nothing matches.
func FindFirst(dir, pattern string) (string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("pattern %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	// ReadDir returns entries sorted by filename
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if g.Match(e.Name()) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}
