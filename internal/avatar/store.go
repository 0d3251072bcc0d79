// Package avatar stores profile pictures in S3-compatible object storage.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxBytes is the largest accepted upload.
const MaxBytes = 2 << 20

var (
	ErrTooLarge        = fmt.Errorf("avatar exceeds %d bytes", MaxBytes)
	ErrUnsupportedType = errors.New("avatar must be a PNG, JPEG, or WebP image")
	ErrEmpty           = errors.New("avatar body is empty")
)

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL prefixes object keys in returned URLs, e.g. a CDN origin.
	PublicURL string
}

type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Store struct {
	client  objectPutter
	bucket  string
	baseURL string
}

// NewStore connects to the endpoint and creates the bucket when missing.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check avatar bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create avatar bucket: %w", err)
		}
	}
	return newStore(client, cfg), nil
}

func newStore(client objectPutter, cfg Config) *Store {
	base := strings.TrimRight(cfg.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}
	return &Store{client: client, bucket: cfg.Bucket, baseURL: base}
}

// Detect sniffs the image type from the bytes, ignoring any client header.
func Detect(data []byte) (contentType string, err error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxBytes {
		return "", ErrTooLarge
	}
	contentType = http.DetectContentType(data)
	if _, ok := extensions[contentType]; !ok {
		return "", ErrUnsupportedType
	}
	return contentType, nil
}

// Upload writes a new object per call so cached URLs never show stale images.
func (s *Store) Upload(ctx context.Context, userID string, data []byte) (string, error) {
	contentType, err := Detect(data)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("avatars/%s/%s.%s", userID, uuid.NewString(), extensions[contentType])

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", fmt.Errorf("put avatar object: %w", err)
	}
	return s.baseURL + "/" + key, nil
}
