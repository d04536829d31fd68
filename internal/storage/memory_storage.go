package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

type memoryBlob struct {
	data       []byte
	modifiedAt time.Time
}

// MemoryStorage keeps payloads in process memory. Use it only for tests and
// throwaway instances; it buffers every payload in full.
type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memoryBlob
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]map[string]memoryBlob)}
}

func (s *MemoryStorage) Put(ctx context.Context, bucket string, r io.Reader, suggestedName string) (Blob, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(&contextReader{ctx: ctx, r: r}); err != nil {
		return Blob{}, fmt.Errorf("read payload %q: %w", suggestedName, err)
	}

	id := NewID()
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		objects = make(map[string]memoryBlob)
		s.buckets[bucket] = objects
	}
	objects[id] = memoryBlob{data: buf.Bytes(), modifiedAt: now}

	return Blob{ID: id, Bucket: bucket, Size: int64(buf.Len()), ModifiedAt: now}, nil
}

func (s *MemoryStorage) Get(ctx context.Context, bucket string, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.buckets[bucket][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
	}
	return io.NopCloser(bytes.NewReader(blob.data)), nil
}

func (s *MemoryStorage) Delete(ctx context.Context, bucket string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket][id]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
	}
	delete(s.buckets[bucket], id)
	return nil
}

func (s *MemoryStorage) Stat(ctx context.Context, bucket string, id string) (Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.buckets[bucket][id]
	if !ok {
		return Blob{}, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, id)
	}
	return Blob{ID: id, Bucket: bucket, Size: int64(len(blob.data)), ModifiedAt: blob.modifiedAt}, nil
}

func (s *MemoryStorage) List(ctx context.Context, bucket string, fn func(Blob) error) error {
	s.mu.RLock()
	blobs := make([]Blob, 0, len(s.buckets[bucket]))
	for id, blob := range s.buckets[bucket] {
		blobs = append(blobs, Blob{ID: id, Bucket: bucket, Size: int64(len(blob.data)), ModifiedAt: blob.modifiedAt})
	}
	s.mu.RUnlock()

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].ID < blobs[j].ID })

	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(blob); err != nil {
			return err
		}
	}
	return nil
}

// SetModifiedAt backdates a stored payload. It exists for tests that need to
// age blobs past a grace period.
func (s *MemoryStorage) SetModifiedAt(bucket string, id string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if blob, ok := s.buckets[bucket][id]; ok {
		blob.modifiedAt = t
		s.buckets[bucket][id] = blob
	}
}
