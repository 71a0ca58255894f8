package artifact

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/you-humble/linkassist/internal/domain"
)

// localStore keeps artifacts on disk; the service exposes baseDir over HTTP
// under publicBaseURL.
type localStore struct {
	baseDir       string
	publicBaseURL string
	now           func() time.Time
}

func NewLocalStore(baseDir, publicBaseURL string) (*localStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is empty")
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	return &localStore{
		baseDir:       baseDir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}, nil
}

func (s *localStore) Dir() string { return s.baseDir }

func (s *localStore) Upload(ctx context.Context, up domain.Upload) (string, error) {
	name := objectName(s.now(), up.Name)
	if err := s.save(ctx, up.Content, name); err != nil {
		return "", &domain.UploadError{Filename: up.Name, Err: err}
	}

	return s.publicBaseURL + "/" + url.PathEscape(name), nil
}

func (s *localStore) save(ctx context.Context, reader io.Reader, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath := filepath.Join(s.baseDir, name)

	tempPath := fullPath + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tempPath)
	}()

	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

func (s *localStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	cutoff := s.now().Add(-maxAge)

	return filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old file %s: %w", p, err)
		}
		return nil
	})
}
