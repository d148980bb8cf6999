package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"batchupload/internal/transfer"
)

// FileSink stores items as files under a directory of a go-billy filesystem
type FileSink struct {
	fs   billy.Filesystem
	dir  string
	perm os.FileMode
}

// NewFileSink creates a sink rooted at dir on fs. The directory is created
// here, once, so concurrent stores never race on it.
func NewFileSink(fs billy.Filesystem, dir string) (*FileSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory %s: %w", dir, err)
	}

	return &FileSink{
		fs:   fs,
		dir:  dir,
		perm: 0o644,
	}, nil
}

// NewOSFileSink creates a file sink on the local disk
func NewOSFileSink(dir string) (*FileSink, error) {
	return NewFileSink(osfs.New(dir), ".")
}

// Store creates the destination file exclusively and streams the item into
// it. An existing file is never touched; a failed stream removes the file it
// created.
func (s *FileSink) Store(ctx context.Context, item transfer.Item) error {
	name, err := cleanName(item.Name)
	if err != nil {
		return err
	}
	dst := s.fs.Join(s.dir, name)

	if parent := path.Dir(name); parent != "." {
		if err := s.fs.MkdirAll(s.fs.Join(s.dir, parent), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", item.Name, err)
		}
	}

	src, err := item.Open()
	if err != nil {
		return fmt.Errorf("failed to open content of %s: %w", item.Name, err)
	}
	defer src.Close()

	f, err := s.fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, s.perm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return transfer.Permanent(fmt.Errorf("%w: %s", ErrExist, item.Name))
		}
		return fmt.Errorf("failed to create %s: %w", item.Name, err)
	}

	_, err = io.Copy(f, &contextReader{ctx: ctx, r: src})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(dst)
		return fmt.Errorf("failed to write %s: %w", item.Name, err)
	}

	return nil
}

// Dir returns the sink's destination directory
func (s *FileSink) Dir() string {
	return s.dir
}
