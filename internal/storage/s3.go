package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Store uploads blobs to a single S3 bucket. Credentials come from the
// ambient chain (environment variables locally, the injected role in a
// container).
type S3Store struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3Store builds an S3Store for the given bucket. endpoint overrides the
// service endpoint when non-empty (local stacks, private gateways).
func NewS3Store(ctx context.Context, bucket, endpoint string, logger zerolog.Logger) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true
		}
	})
	return &S3Store{client: client, bucket: bucket, logger: logger}, nil
}

// Bucket returns the destination bucket name.
func (s *S3Store) Bucket() string { return s.bucket }

// Upload puts one object.
func (s *S3Store) Upload(ctx context.Context, key, contentType string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	s.logger.Debug().
		Str("bucket", s.bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Dur("runtime", time.Since(start)).
		Msg("object uploaded")
	return nil
}
