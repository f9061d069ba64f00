package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/teu-im/teuim/pkg/errorsx"
)

type s3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options tunes the uploader beyond the ambient AWS config. Endpoint
// supports S3-compatible stores (MinIO, R2); KeyPrefix namespaces every
// object path.
type S3Options struct {
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// S3Uploader stores artifacts in one S3 (or S3-compatible) bucket.
type S3Uploader struct {
	client s3PutAPI
	bucket string
	prefix string
}

// NewS3Uploader resolves credentials from the ambient AWS config; options
// override the region and endpoint when set.
func NewS3Uploader(ctx context.Context, bucket string, opts S3Options) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{client: client, bucket: bucket, prefix: normalizePrefix(opts.KeyPrefix)}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, path, contentType string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.prefix + path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	return errorsx.Wrap(err, errorsx.ReasonUpload)
}

func normalizePrefix(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
