// Package storage keeps message attachments in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sony/gobreaker/v2"

	"chatsync/internal/config"
	"chatsync/internal/models"
)

var (
	ErrDisabled   = errors.New("attachment storage is not configured")
	ErrForeignURL = errors.New("url does not belong to the attachment bucket")
)

type objectAPI interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

// Store uploads and removes attachments. Calls go through a circuit breaker
// so a failing object store fails fast instead of holding request slots.
type Store struct {
	client  objectAPI
	bucket  string
	baseURL string
	breaker *gobreaker.CircuitBreaker[struct{}]
	now     func() time.Time
}

// New connects to the object store described by cfg.
func New(cfg config.StorageConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, ErrDisabled
	}
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://")
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	base := cfg.PublicURL
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + endpoint
	}
	return newStore(cl, cfg.Bucket, base), nil
}

func newStore(client objectAPI, bucket, baseURL string) *Store {
	return &Store{
		client:  client,
		bucket:  bucket,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "attachment-store",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		now: time.Now,
	}
}

// EnsureBucket creates the bucket on first start.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload stores data under a fresh key in the owner's prefix and returns its
// durable URL.
func (s *Store) Upload(ctx context.Context, ownerID string, data []byte, contentType string, fileName string) (models.Attachment, error) {
	if ownerID == "" || strings.Contains(ownerID, "/") {
		return models.Attachment{}, fmt.Errorf("invalid owner id %q", ownerID)
	}
	key := s.objectKey(ownerID, fileName)
	_, err := s.breaker.Execute(func() (struct{}, error) {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"original-name": fileName},
		})
		return struct{}{}, err
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("put %s: %w", key, err)
	}
	return models.Attachment{URL: s.baseURL + "/" + s.bucket + "/" + key, FileName: fileName}, nil
}

// Delete removes the object behind a URL returned by Upload.
func (s *Store) Delete(ctx context.Context, url string) error {
	key, err := s.KeyFromURL(url)
	if err != nil {
		return err
	}
	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	})
	return err
}

// KeyFromURL derives the object key from an attachment URL.
func (s *Store) KeyFromURL(url string) (string, error) {
	prefix := s.baseURL + "/" + s.bucket + "/"
	if !strings.HasPrefix(url, prefix) || len(url) == len(prefix) {
		return "", ErrForeignURL
	}
	return strings.TrimPrefix(url, prefix), nil
}

// Owner reports which user uploaded the object behind url. ok is false for
// URLs outside this bucket.
func (s *Store) Owner(url string) (owner string, ok bool) {
	key, err := s.KeyFromURL(url)
	if err != nil {
		return "", false
	}
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] != "attachments" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (s *Store) objectKey(ownerID, fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	return fmt.Sprintf("attachments/%s/%s/%s%s", ownerID, s.now().UTC().Format("2006/01"), uuid.NewString(), ext)
}

// State exposes the breaker state for health reporting.
func (s *Store) State() string {
	return s.breaker.State().String()
}
