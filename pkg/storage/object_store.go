package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrPermissionDenied is returned for paths outside the store or unwritable locations.
	ErrPermissionDenied = errors.New("object store permission denied")
)

// Object is a stored blob opened for reading.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
	ModTime     time.Time
}

// ObjectStore keeps uploaded student documents and generated certificates on disk under a
// per-student prefix and hands out signed download URLs for them.
type ObjectStore struct {
	baseDir string
	baseURL string
	signer  *SignedURLSigner
}

// NewObjectStore ensures the base directory exists. baseURL is the public origin prefixed to
// download links, e.g. http://localhost:8080/api/v1.
func NewObjectStore(baseDir, baseURL string, signer *SignedURLSigner) (*ObjectStore, error) {
	if baseDir == "" {
		baseDir = "./objects"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create object directory: %w", err)
	}
	return &ObjectStore{baseDir: baseDir, baseURL: strings.TrimRight(baseURL, "/"), signer: signer}, nil
}

// Upload writes data to objectPath, replacing any previous object.
func (s *ObjectStore) Upload(ctx context.Context, objectPath string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return wrapFSError("prepare object directory", err)
	}
	tmp := target + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return wrapFSError("write object", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return wrapFSError("commit object", err)
	}
	if contentType != "" {
		_ = os.WriteFile(target+".type", []byte(contentType), 0o644)
	}
	return nil
}

// DownloadURL returns a time-limited URL for objectPath. The object must exist.
func (s *ObjectStore) DownloadURL(ctx context.Context, objectPath string) (string, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return "", time.Time{}, err
	}
	target, err := s.resolve(objectPath)
	if err != nil {
		return "", time.Time{}, err
	}
	if _, err := os.Stat(target); err != nil {
		return "", time.Time{}, wrapFSError("stat object", err)
	}
	token, expiresAt, err := s.signer.Generate(scopeOf(objectPath), cleanKey(objectPath))
	if err != nil {
		return "", time.Time{}, err
	}
	return fmt.Sprintf("%s/files/%s", s.baseURL, token), expiresAt, nil
}

// OpenSigned validates a download token and opens the referenced object.
func (s *ObjectStore) OpenSigned(token string) (*Object, error) {
	_, objectPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return s.Open(objectPath)
}

// Open returns a read handle for objectPath.
func (s *ObjectStore) Open(objectPath string) (*Object, error) {
	target, err := s.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, wrapFSError("open object", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, wrapFSError("stat object", err)
	}
	contentType := mime.TypeByExtension(path.Ext(objectPath))
	if raw, err := os.ReadFile(target + ".type"); err == nil && len(raw) > 0 {
		contentType = string(raw)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{Body: file, ContentType: contentType, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete removes an object if present.
func (s *ObjectStore) Delete(objectPath string) error {
	target, err := s.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return wrapFSError("delete object", err)
	}
	_ = os.Remove(target + ".type")
	return nil
}

func (s *ObjectStore) resolve(objectPath string) (string, error) {
	key := cleanKey(objectPath)
	if key == "" || key == "." || strings.HasPrefix(key, "../") || key == ".." {
		return "", fmt.Errorf("%w: invalid object path %q", ErrPermissionDenied, objectPath)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

func cleanKey(objectPath string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(objectPath)), "/")
}

func scopeOf(objectPath string) string {
	parts := strings.Split(cleanKey(objectPath), "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return "object"
}

func wrapFSError(op string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%s: %w", op, ErrObjectNotFound)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
