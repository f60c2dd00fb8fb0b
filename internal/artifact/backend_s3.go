package artifact

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Backend mirrors uploaded artifacts into an Amazon S3 bucket via the
// example pack's github.com/aws/aws-sdk-go, using s3manager.Uploader for
// its built-in multipart handling of large streams.
type S3Backend struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Backend returns a Backend writing objects under bucket/prefix.
func NewS3Backend(svc s3iface.S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{uploader: s3manager.NewUploaderWithClient(svc), bucket: bucket, prefix: prefix}
}

func (b *S3Backend) Put(ctx context.Context, name string, contents io.Reader, size int64) error {
	_, err := b.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.prefix + name),
		Body:   contents,
	})
	return err
}
