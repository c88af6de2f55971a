// Package archive stores raw analysis payloads in S3-compatible object
// storage, out of band from canonical state, for later inspection of what
// the external service actually answered.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Service writes one object per analysis run.
type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Service, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &Service{client: client, bucket: bucket}, nil
}

// StoreRaw writes one payload under <sessionID>/<timestamp>.json.
func (s *Service) StoreRaw(ctx context.Context, sessionID, payload string) error {
	name := fmt.Sprintf("%s/%s.json", sessionID, time.Now().UTC().Format("20060102T150405.000000000Z"))
	reader := strings.NewReader(payload)
	_, err := s.client.PutObject(ctx, s.bucket, name, reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("store payload %s: %w", name, err)
	}
	return nil
}
