// Package storage uploads captured frames to S3 for analysis and removes them afterwards.
package storage

import (
	"bytes"
	"context"
	"net/http"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/livecheck/internal/logging"
)

// S3API is the slice of the S3 client used by the store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store keeps frames in a single bucket.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Store builds a store for bucket. Keys are placed under prefix when it is set.
func NewS3Store(client S3API, bucket, prefix string, logger *zap.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, logger: logger.Named("s3_store")}
}

// Bucket returns the bucket name.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// Upload stores data under a fresh random key and returns that key.
func (s *S3Store) Upload(ctx context.Context, data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	key := uuid.NewString() + extensionFor(contentType)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		wrapped := logging.NewOperationError("storage.upload", key, err)
		s.logger.Error("failed to upload frame", zap.Error(wrapped))
		return "", wrapped
	}
	return key, nil
}

// Delete removes the given keys, continuing past failures and returning the first error.
func (s *S3Store) Delete(ctx context.Context, keys ...string) error {
	var first error
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			wrapped := logging.NewOperationError("storage.delete", key, err)
			s.logger.Warn("failed to delete frame", zap.Error(wrapped))
			if first == nil {
				first = wrapped
			}
		}
	}
	return first
}

// Clear deletes every object under the store prefix and returns how many were removed.
func (s *S3Store) Clear(ctx context.Context) (int, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}

	deleted := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, logging.NewOperationError("storage.clear", "", err)
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if err := s.Delete(ctx, key); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	s.logger.Info("bucket cleared", zap.String("bucket", s.bucket), zap.Int("deleted", deleted))
	return deleted, nil
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ""
	}
}
