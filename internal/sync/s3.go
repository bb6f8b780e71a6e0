package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const ndjson = "application/x-ndjson"

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination overwrites a single object with each snapshot. The
// snapshot's header counts are copied into the object's user metadata so
// a bucket listing shows them without downloading the body.
type S3Destination struct {
	client objectPutter
	bucket string
	key    string
}

// NewS3Destination uses the default AWS credential chain. A non-empty
// endpoint switches to path-style addressing for MinIO and friends.
func NewS3Destination(ctx context.Context, bucket, key, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for s3://%s: %w", bucket, err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Destination{client: client, bucket: bucket, key: key}, nil
}

func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ndjson),
		Metadata:    snapshotMetadata(data),
	}
	if _, err := d.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("uploading snapshot to s3://%s/%s: %w", d.bucket, d.key, err)
	}
	return nil
}

func snapshotMetadata(data []byte) map[string]string {
	first, _, _ := bytes.Cut(data, []byte("\n"))
	var h header
	if json.Unmarshal(first, &h) != nil || h.Type == "" {
		return nil
	}
	md := map[string]string{
		"connections": strconv.Itoa(h.ConnectionCount),
		"states":      strconv.Itoa(h.StateCount),
	}
	if h.ConfigVersion != "" {
		md["config-version"] = h.ConfigVersion
	}
	return md
}
