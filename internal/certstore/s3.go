package certstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alfredjeanlab/leafbus/internal/store"
)

type getObjectAPI interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 reads certificates from <prefix>/<domain>/<name> in a bucket.
type S3 struct {
	client getObjectAPI
	bucket string
	prefix string
}

// NewS3 creates an S3 source. If endpoint is non-empty, path-style
// addressing is enabled (for MinIO and similar).
func NewS3(ctx context.Context, bucket, prefix, region, endpoint string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3{client: s3.NewFromConfig(cfg, s3opts...), bucket: bucket, prefix: prefix}, nil
}

func (s *S3) Read(ctx context.Context, domain, name string) ([]byte, error) {
	key := path.Join(s.prefix, domain, name)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("s3 get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}
