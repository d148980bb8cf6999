// Package sink provides the durable destinations a transfer engine writes
// items into: a directory on a go-billy filesystem and a bucket on an
// S3-compatible object store.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"batchupload/internal/transfer"
)

var (
	_ transfer.Sink = (*FileSink)(nil)
	_ transfer.Sink = (*ObjectSink)(nil)
)

// ErrExist is returned when the destination already holds an entry with the
// item's name
var ErrExist = errors.New("destination entry already exists")

// ErrInvalidName is returned for names that are empty or escape the destination
var ErrInvalidName = errors.New("invalid item name")

// cleanName normalises an item name to a slash-separated relative path
func cleanName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", transfer.Permanent(fmt.Errorf("%w: empty", ErrInvalidName))
	}

	cleaned := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", transfer.Permanent(fmt.Errorf("%w: %q", ErrInvalidName, name))
	}
	return cleaned, nil
}

// contextReader fails reads once ctx is done so a long copy stops promptly
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
