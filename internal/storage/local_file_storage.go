package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
)

// Buckets are plain directory names, so they must not contain separators or
// dots.
var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// LocalFileStorage is a Store implementation that keeps payloads on the
// local filesystem rooted at dataDir. Each bucket gets its own subdirectory,
// and within each bucket payloads are addressed by their id, with the first
// two characters used as a subdirectory prefix. Uploads are written to a
// temporary file first and moved into place once complete.
type LocalFileStorage struct {
	dataDir string
	tempDir string
}

// NewLocalFileStorage creates a new LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) (*LocalFileStorage, error) {
	if dataDir == "" {
		return nil, errors.New("local storage root must not be empty")
	}

	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	tempDir := filepath.Join(abs, ".tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage temp dir: %w", err)
	}

	return &LocalFileStorage{dataDir: abs, tempDir: tempDir}, nil
}

// ObjectPath computes the full filesystem path for the payload identified by
// id within the given bucket.
func ObjectPath(directory string, bucket string, id string) (string, error) {
	if !bucketNamePattern.MatchString(bucket) {
		return "", fmt.Errorf("invalid bucket name: %q", bucket)
	}
	if !ValidID(id) {
		return "", fmt.Errorf("%w: invalid blob id %q", ErrNotFound, id)
	}
	return filepath.Join(directory, bucket, id[:2], id), nil
}

func (s *LocalFileStorage) Put(ctx context.Context, bucket string, r io.Reader, suggestedName string) (Blob, error) {
	if !bucketNamePattern.MatchString(bucket) {
		return Blob{}, fmt.Errorf("invalid bucket name: %q", bucket)
	}
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	tempFile, err := os.CreateTemp(s.tempDir, "put-*")
	if err != nil {
		return Blob{}, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		// Best-effort cleanup; once the payload has been moved into place
		// this just fails with ENOENT.
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			slog.Debug("Failed to remove temp upload file", "path", tempPath, "err", err)
		}
	}()

	size, err := io.Copy(tempFile, &contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = tempFile.Close()
		return Blob{}, fmt.Errorf("write payload %q: %w", suggestedName, err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		return Blob{}, fmt.Errorf("sync payload: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return Blob{}, fmt.Errorf("close payload: %w", err)
	}

	id := NewID()
	objPath, err := ObjectPath(s.dataDir, bucket, id)
	if err != nil {
		return Blob{}, err
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return Blob{}, fmt.Errorf("create bucket dir: %w", err)
	}

	if err := MoveFile(tempPath, objPath); err != nil {
		return Blob{}, fmt.Errorf("move payload into place: %w", err)
	}

	info, err := os.Stat(objPath)
	if err != nil {
		return Blob{}, fmt.Errorf("stat stored payload: %w", err)
	}

	return Blob{ID: id, Bucket: bucket, Size: size, ModifiedAt: info.ModTime().UTC()}, nil
}

func (s *LocalFileStorage) Get(ctx context.Context, bucket string, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objPath, err := ObjectPath(s.dataDir, bucket, id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *LocalFileStorage) Delete(ctx context.Context, bucket string, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objPath, err := ObjectPath(s.dataDir, bucket, id)
	if err != nil {
		return err
	}

	err = os.Remove(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
	}
	return err
}

func (s *LocalFileStorage) Stat(ctx context.Context, bucket string, id string) (Blob, error) {
	if err := ctx.Err(); err != nil {
		return Blob{}, err
	}

	objPath, err := ObjectPath(s.dataDir, bucket, id)
	if err != nil {
		return Blob{}, err
	}

	info, err := os.Stat(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Blob{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
	}
	if err != nil {
		return Blob{}, err
	}

	return Blob{ID: id, Bucket: bucket, Size: info.Size(), ModifiedAt: info.ModTime().UTC()}, nil
}

func (s *LocalFileStorage) List(ctx context.Context, bucket string, fn func(Blob) error) error {
	if !bucketNamePattern.MatchString(bucket) {
		return fmt.Errorf("invalid bucket name: %q", bucket)
	}

	root := filepath.Join(s.dataDir, bucket)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || !ValidID(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return fn(Blob{ID: d.Name(), Bucket: bucket, Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
	})

	// A bucket that never received a payload has no directory yet.
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// contextReader stops a copy as soon as ctx is done, so an abandoned upload
// does not keep writing to disk.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
