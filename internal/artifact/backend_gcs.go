package artifact

import (
	"context"
	"io"

	"cloud.google.com/go/storage"
)

// GCSBackend mirrors uploaded artifacts into a Google Cloud Storage
// bucket, using the example pack's cloud.google.com/go/storage client
// (the teacher's go.mod dependency, previously reached only through its
// own superseded pkg/googlestorage wrapper).
type GCSBackend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSBackend returns a Backend writing objects under bucket/prefix.
func NewGCSBackend(client *storage.Client, bucket, prefix string) *GCSBackend {
	return &GCSBackend{client: client, bucket: bucket, prefix: prefix}
}

func (b *GCSBackend) Put(ctx context.Context, name string, contents io.Reader, size int64) error {
	obj := b.client.Bucket(b.bucket).Object(b.prefix + name)
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, contents); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
