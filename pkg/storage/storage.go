// Package storage reads and writes raw resource content.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// ErrFileNotFound is returned when a path does not exist.
var ErrFileNotFound = errors.New("file not found")

// FileStorage stores resource content under relative paths.
type FileStorage interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// ReadFileAsText returns the content decoded as UTF-8.
	ReadFileAsText(ctx context.Context, path string) (string, error)
	Save(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	// Delete is a no-op for missing paths.
	Delete(ctx context.Context, path string) error
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, utf8BOM)
	return strings.ToValidUTF8(string(data), "\uFFFD")
}
