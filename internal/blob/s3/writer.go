package s3blob

import (
	"context"
	"fmt"
	"io"
	"maps"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// minPartSize is the S3 floor for multipart parts.
const minPartSize int64 = 5 * 1024 * 1024

const contentTypeJSONL = "application/x-ndjson"

// Writer implements domain.BlobWriter. Every object it writes carries the
// writer's metadata, so an archive can be traced back to the account and
// mode that produced it without parsing its key.
type Writer struct {
	c        *Client
	metadata map[string]string
}

func NewWriter(c *Client) *Writer {
	return &Writer{c: c, metadata: map[string]string{}}
}

// WithMetadata adds an x-amz-meta-<key> header to every upload.
func (w *Writer) WithMetadata(key, value string) *Writer {
	if value != "" {
		w.metadata[key] = value
	}
	return w
}

// Put stores data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.c.S3().PutObject(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams a JSONL archive through the transfer manager.
// partSize below the S3 minimum is raised to it.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.c.S3(), func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(path, data, contentTypeJSONL)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}

func (w *Writer) input(path string, body io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket: aws.String(w.c.Bucket()),
		Key:    aws.String(w.c.Key(path)),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if len(w.metadata) > 0 {
		in.Metadata = maps.Clone(w.metadata)
	}
	return in
}
