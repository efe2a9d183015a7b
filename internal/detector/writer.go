package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// emptyResult is written for a log file that produced no detections.
var emptyResult = []byte("[]")

// Writer owns the results directory and records the SHA-256 of every file it
// writes or adopts from the engine.
type Writer struct {
	dir    string
	mu     sync.Mutex
	hashes map[string]FileHash
}

// FileHash records the SHA-256 hash of a saved file.
type FileHash struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

// NewWriter creates a Writer for dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create results dir: %w", err)
	}
	return &Writer{dir: dir, hashes: make(map[string]FileHash)}, nil
}

// Dir returns the results directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Path returns the full path of name inside the results directory.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Exists reports whether name is already present in the results directory.
func (w *Writer) Exists(name string) bool {
	_, err := os.Stat(w.Path(name))
	return err == nil
}

// WriteEmpty writes an empty detection array to name.
func (w *Writer) WriteEmpty(name string) error {
	return w.write(name, emptyResult)
}

// SaveLog writes engine diagnostics to name. Empty output is not written.
func (w *Writer) SaveLog(name string, stderr []byte) error {
	if len(stderr) == 0 {
		return nil
	}
	return w.write(name, stderr)
}

// Adopt hashes a file the engine wrote itself.
func (w *Writer) Adopt(name string) error {
	data, err := os.ReadFile(w.Path(name))
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	w.record(name, data)
	return nil
}

// AdoptAll hashes every file in the results directory ending in suffix,
// including results cached by earlier runs.
func (w *Writer) AdoptAll(suffix string) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read results dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if err := w.Adopt(e.Name()); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes name if present.
func (w *Writer) Remove(name string) error {
	err := os.Remove(w.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Writer) write(name string, data []byte) error {
	path := w.Path(name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.record(name, data)
	return nil
}

func (w *Writer) record(name string, data []byte) {
	w.mu.Lock()
	w.hashes[name] = FileHash{File: name, SHA256: SHA256Hex(data), Size: len(data)}
	w.mu.Unlock()
}

// Hashes returns the recorded hashes sorted by file name.
func (w *Writer) Hashes() []FileHash {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]FileHash, 0, len(w.hashes))
	for _, h := range w.hashes {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}

// SHA256Hex computes the SHA-256 hex digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
