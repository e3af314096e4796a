package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client wraps S3 operations for reading declarations and uploading
// reports.
type S3Client struct {
	client *s3.Client
}

// NewS3Client creates an S3 client. An empty region defers to the AWS
// default chain (env, shared config).
func NewS3Client(ctx context.Context, region string) (*S3Client, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Client{client: s3.NewFromConfig(cfg)}, nil
}

// Open streams an object. Caller closes the returned body.
func (c *S3Client) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	resp, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting S3 object s3://%s/%s: %w", bucket, key, err)
	}
	return resp.Body, nil
}

// Upload writes body to bucket/key.
func (c *S3Client) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting S3 object s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// IsURI reports whether s is an s3:// location.
func IsURI(s string) bool { return strings.HasPrefix(s, "s3://") }

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	if !IsURI(uri) {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI needs bucket and key: %q", uri)
	}
	return bucket, key, nil
}
