package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/gabriel-vasile/mimetype"

	"batchupload/internal/storage"
	"batchupload/internal/transfer"
)

// sniffLen is how much of the content is read to detect its type
const sniffLen = 512

// ObjectSink stores items as objects in one bucket of an S3-compatible store
type ObjectSink struct {
	client storage.Client
	bucket string
	prefix string
}

// NewObjectSink creates a sink writing to bucket under prefix. The bucket is
// created here when missing.
func NewObjectSink(ctx context.Context, client storage.Client, bucket, prefix string) (*ObjectSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return &ObjectSink{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Key returns the object key used for an item name
func (s *ObjectSink) Key(name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return path.Join(s.prefix, cleaned), nil
}

// Store uploads the item as a single object. An existing object with the same
// key is left alone; the check is best-effort since the store has no
// conditional create.
func (s *ObjectSink) Store(ctx context.Context, item transfer.Item) error {
	key, err := s.Key(item.Name)
	if err != nil {
		return err
	}

	if _, err := s.client.HeadObject(ctx, s.bucket, key); err == nil {
		return transfer.Permanent(fmt.Errorf("%w: %s", ErrExist, key))
	} else if !storage.IsNotFound(err) {
		return fmt.Errorf("failed to check %s: %w", key, err)
	}

	src, err := item.Open()
	if err != nil {
		return fmt.Errorf("failed to open content of %s: %w", item.Name, err)
	}
	defer src.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("failed to read %s: %w", item.Name, err)
	}
	head = head[:n]

	size := item.Size
	if size <= 0 {
		size = -1
	}

	opts := storage.PutOptions{
		ContentType: mimetype.Detect(head).String(),
	}
	body := &contextReader{ctx: ctx, r: io.MultiReader(bytes.NewReader(head), src)}
	if err := s.client.PutObject(ctx, s.bucket, key, body, size, opts); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return nil
}
