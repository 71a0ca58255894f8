package artifact

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	mio "github.com/you-humble/linkassist/core/libs/minio"
	"github.com/you-humble/linkassist/internal/domain"

	"github.com/minio/minio-go/v7"
)

type minioStore struct {
	db            *minio.Client
	bucket        string
	basePath      string
	publicBaseURL string
	now           func() time.Time
}

// NewMinIOStore stores uploads under basePath in the configured bucket.
func NewMinIOStore(ctx context.Context, cfg mio.Config, basePath, publicBaseURL string) (*minioStore, error) {
	mioClient, err := mio.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}

	return &minioStore{
		db:            mioClient,
		bucket:        cfg.Bucket,
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}, nil
}

func (s *minioStore) Upload(ctx context.Context, up domain.Upload) (string, error) {
	select {
	case <-ctx.Done():
		return "", &domain.UploadError{Filename: up.Name, Err: ctx.Err()}
	default:
	}

	key := s.basePath + objectName(s.now(), up.Name)

	putSize := up.Size
	if putSize <= 0 {
		putSize = -1
	}

	_, err := s.db.PutObject(ctx, s.bucket, key, up.Content, putSize, minio.PutObjectOptions{
		ContentType: contentType(up.Name),
	})
	if err != nil {
		return "", &domain.UploadError{Filename: up.Name, Err: fmt.Errorf("put object: %w", err)}
	}

	return s.publicURL(key), nil
}

func (s *minioStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := s.now().Add(-maxAge)

	opts := minio.ListObjectsOptions{
		Prefix:    s.basePath,
		Recursive: true,
	}

	for objectInfo := range s.db.ListObjects(ctx, s.bucket, opts) {
		if objectInfo.Err != nil {
			continue
		}

		if !objectInfo.LastModified.Before(cutoff) {
			continue
		}

		err := s.db.RemoveObject(ctx, s.bucket, objectInfo.Key, minio.RemoveObjectOptions{})
		if err != nil {
			var merr minio.ErrorResponse
			if errors.As(err, &merr) && merr.Code == minio.NoSuchKey {
				continue
			}
			return fmt.Errorf("remove old object %s: %w", objectInfo.Key, err)
		}
	}

	return nil
}

func (s *minioStore) publicURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + escapeKey(key)
	}

	u := *s.db.EndpointURL()
	u.Path = path.Join("/", s.bucket, key)
	return u.String()
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
