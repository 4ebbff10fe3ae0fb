package memory

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"github.com/dmitrijs2005/meterkeeper/internal/remote"
)

// Blobs is the blob side of a Store. It shares the store's lock, call log
// and fault hooks.
type Blobs struct {
	s *Store
}

// Blobs returns the blob store view.
func (s *Store) Blobs() *Blobs {
	return &Blobs{s: s}
}

// Ref returns the reference Put hands out for path.
func (b *Blobs) Ref(path string) string {
	return remote.BlobRef{Scheme: scheme, Bucket: b.s.bucket, Key: path}.String()
}

func (b *Blobs) Owns(ref remote.BlobRef) bool {
	return ref.Scheme == scheme && ref.Bucket == b.s.bucket
}

func (b *Blobs) Put(ctx context.Context, path, localFile string) (string, error) {
	data, err := os.ReadFile(localFile)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", localFile, err)
	}

	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.enter(OpBlobPut, path); err != nil {
		return "", err
	}
	s.blobs[path] = data
	return b.Ref(path), nil
}

func (b *Blobs) Delete(ctx context.Context, path string) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.enter(OpBlobDelete, path); err != nil {
		return err
	}
	if _, ok := s.blobs[path]; !ok {
		return fmt.Errorf("blob %s: %w", path, common.ErrorNotFound)
	}
	delete(s.blobs, path)
	return nil
}

// Has reports whether a blob is stored at path.
func (b *Blobs) Has(path string) bool {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	_, ok := b.s.blobs[path]
	return ok
}

// Keys lists stored blob paths in order.
func (b *Blobs) Keys() []string {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	keys := make([]string, 0, len(b.s.blobs))
	for k := range b.s.blobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Seed stores data at path without recording a call.
func (b *Blobs) Seed(path string, data []byte) string {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	b.s.blobs[path] = data
	return b.Ref(path)
}
