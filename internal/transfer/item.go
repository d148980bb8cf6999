package transfer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"
)

// ContentFunc opens a fresh stream over an item's content. It is called once
// per attempt, so a retried item always streams from the first byte.
type ContentFunc func() (io.ReadCloser, error)

// Item is one named unit of content to transfer
type Item struct {
	// Name is the storage key under the sink's destination
	Name string
	// Content opens the item's byte stream
	Content ContentFunc
	// Size is the content length in bytes, or a value <= 0 when unknown
	Size int64
}

// Open opens the item's content stream
func (i Item) Open() (io.ReadCloser, error) {
	if i.Content == nil {
		return nil, fmt.Errorf("item %q has no content", i.Name)
	}
	return i.Content()
}

// BytesItem creates an item backed by an in-memory buffer
func BytesItem(name string, data []byte) Item {
	return Item{
		Name: name,
		Content: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
		Size: int64(len(data)),
	}
}

// FileItem creates an item backed by a file on fs. The file is stat'ed once to
// record its size and reopened on every attempt.
func FileItem(fs billy.Filesystem, path, name string) (Item, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return Item{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Item{}, fmt.Errorf("%s is a directory", path)
	}

	return Item{
		Name: name,
		Content: func() (io.ReadCloser, error) {
			return fs.Open(path)
		},
		Size: info.Size(),
	}, nil
}
