// Package s3 implements storage.Store on Amazon S3 or any S3-compatible
// service.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nadzzz/voicedesk/internal/config"
	"github.com/nadzzz/voicedesk/internal/storage"
)

// objectAPI is the subset of *s3.Client the store uses.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store implements storage.Store against a single bucket.
type Store struct {
	bucket  string
	client  objectAPI
	presign func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

var _ storage.Store = (*Store)(nil)

// New creates a store from an AWS config and the storage section.
func New(awsCfg aws.Config, cfg config.StorageConfig) *Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	presigner := s3.NewPresignClient(client)

	return &Store{
		bucket: cfg.Bucket,
		client: client,
		presign: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(cfg.Bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(ttl))
			if err != nil {
				return "", err
			}
			return req.URL, nil
		},
	}
}

// Put uploads data and returns its s3:// locator.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string, opts storage.PutOpts) (string, error) {
	meta := map[string]string{}
	if opts.SessionID != "" {
		meta["session-id"] = opts.SessionID
	}
	if opts.Kind != "" {
		meta["type"] = opts.Kind
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}

	locator := fmt.Sprintf("s3://%s/%s", s.bucket, key)
	slog.Debug("s3 object stored", "locator", locator, "bytes", len(data), "content_type", contentType)
	return locator, nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

// PresignGet returns a time-limited GET URL for key.
func (s *Store) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.presign(ctx, key, ttl)
	if err != nil {
		return "", fmt.Errorf("s3 presign %s: %w", key, err)
	}
	return url, nil
}
