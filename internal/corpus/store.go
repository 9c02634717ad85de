// Package corpus reads and writes CorpusFiles on disk. Every write goes to a
// temporary file in the target directory and is renamed into place.
package corpus

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"pyq-pipeline/internal/domain"
)

// Load reads a CorpusFile from path.
func Load(path string) (*domain.CorpusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.StorageError{Op: "read corpus", Err: err}
	}
	var c domain.CorpusFile
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &domain.StorageError{Op: "decode corpus " + path, Err: err}
	}
	return &c, nil
}

// Encode renders a CorpusFile as indented UTF-8 JSON with a trailing newline.
func Encode(c *domain.CorpusFile) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save atomically replaces path with the encoded corpus.
func Save(path string, c *domain.CorpusFile) error {
	data, err := Encode(c)
	if err != nil {
		return &domain.StorageError{Op: "encode corpus", Err: err}
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path. A failed write leaves path untouched.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &domain.StorageError{Op: "create directory", Err: err}
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return &domain.StorageError{Op: "write " + path, Err: err}
	}
	return nil
}
