package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"

	"batchupload/internal/transfer"
)

// ItemLister turns local paths into transfer items
type ItemLister struct {
	logger *zap.Logger
	// open returns a filesystem rooted at dir
	open func(dir string) billy.Filesystem
}

// NewItemLister creates a lister over the local disk
func NewItemLister(logger *zap.Logger) *ItemLister {
	return &ItemLister{
		logger: logger,
		open:   func(dir string) billy.Filesystem { return osfs.New(dir) },
	}
}

// List collects items from paths. A file becomes one item named by its base
// name; a directory is walked and each regular file is named by its
// slash-separated path relative to the directory. Order follows paths, then
// lexical order within a directory.
func (l *ItemLister) List(ctx context.Context, paths []string) ([]transfer.Item, error) {
	var items []transfer.Item

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		if !info.IsDir() {
			base := filepath.Base(abs)
			item, err := transfer.FileItem(l.open(filepath.Dir(abs)), base, base)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
			continue
		}

		dirItems, err := l.listDir(ctx, l.open(abs))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", p, err)
		}
		l.logger.Debug("Listed directory", zap.String("path", p), zap.Int("items", len(dirItems)))
		items = append(items, dirItems...)
	}

	return items, nil
}

func (l *ItemLister) listDir(ctx context.Context, fs billy.Filesystem) ([]transfer.Item, error) {
	var names []string
	err := util.Walk(fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	items := make([]transfer.Item, 0, len(names))
	for _, path := range names {
		item, err := transfer.FileItem(fs, path, filepath.ToSlash(path))
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// CountItems returns the number of items and their known total size
func CountItems(items []transfer.Item) (int64, int64) {
	var total int64
	for _, item := range items {
		if item.Size > 0 {
			total += item.Size
		}
	}
	return int64(len(items)), total
}

// filterSucceeded drops items whose name is in done, keeping order
func filterSucceeded(items []transfer.Item, done map[string]struct{}) ([]transfer.Item, int) {
	if len(done) == 0 {
		return items, 0
	}

	kept := items[:0:0]
	for _, item := range items {
		if _, ok := done[item.Name]; ok {
			continue
		}
		kept = append(kept, item)
	}
	return kept, len(items) - len(kept)
}
