package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds the settings for the S3 snapshot backend. Endpoint is
// optional and supports S3-compatible stores (MinIO, localstack).
type S3Config struct {
	Bucket     string
	Region     string
	Endpoint   string
	MaxRetries int
}

// S3Storage implements ObjectStorage on an S3 bucket.
type S3Storage struct {
	client     *s3.Client
	bucket     string
	maxRetries int
}

// NewS3Storage creates an S3-backed storage using the default AWS credential
// chain.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Storage{client: client, bucket: cfg.Bucket, maxRetries: cfg.MaxRetries}, nil
}

// Put uploads a snapshot blob, retrying transient failures with backoff.
func (s *S3Storage) Put(ctx context.Context, key string, data []byte) error {
	return s.retryWithBackoff(ctx, "put "+key, func() error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

// Get downloads a snapshot blob.
func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.retryWithBackoff(ctx, "get "+key, func() error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Exists checks for an object with a HEAD request.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("storage: head failed for %s: %w", key, err)
	}
	return true, nil
}

// Delete removes an object. S3 delete is idempotent, so missing keys succeed.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	return s.retryWithBackoff(ctx, "delete "+key, func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return err
	})
}

// List enumerates keys under a prefix, following pagination.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage: list failed for prefix %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// retryWithBackoff retries transient failures with exponential backoff.
// Not-found errors are mapped to ErrObjectNotFound and never retried.
func (s *S3Storage) retryWithBackoff(ctx context.Context, op string, fn func() error) error {
	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("storage: retrying %s (attempt %d/%d) after error: %v",
				op, attempt+1, s.maxRetries, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isNotFound(lastErr) {
			return fmt.Errorf("storage: %s: %w", op, ErrObjectNotFound)
		}
	}
	return fmt.Errorf("storage: %s: %w: %v", op, ErrStorageUnavailable, lastErr)
}

func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &notFound)
}
