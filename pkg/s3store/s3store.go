// Package s3store adapts an AWS S3 bucket to history.S3Object, so a
// tile file can be built directly against object storage instead of a
// local disk.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Client wraps an s3.Client, satisfying history.S3Object.
type Client struct {
	s3 *s3.Client
}

// Config describes how to reach the S3-compatible endpoint.
type Config struct {
	Endpoint        string // non-empty for S3-compatible services (e.g. MinIO)
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// New builds a Client from cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3store: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{s3: client}, nil
}

// GetObjectRange fetches the inclusive byte range [start, end] of an
// object via an HTTP Range GET, never pulling the whole object.
func (c *Client) GetObjectRange(ctx context.Context, bucket, key string, start, end int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end)
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, fmt.Errorf("s3store: GetObject %s/%s range %s: %w", bucket, key, rangeHeader, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// PutObject uploads body as the full contents of bucket/key.
func (c *Client) PutObject(ctx context.Context, bucket, key string, body []byte) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("s3store: PutObject %s/%s: %w", bucket, key, err)
	}
	return nil
}

// HeadObjectSize returns the size, in bytes, of bucket/key.
func (c *Client) HeadObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	out, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("s3store: HeadObject %s/%s: %w", bucket, key, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}
