// Package cache implements the content-addressable incremental build cache:
// content-derived task keys, artifact storage and restore, integrity
// verification, and size/age pruning.
package cache

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/tylerbutler/buildgraph/internal/parallel"
)

// HashCache memoizes file content hashes for one build run, so input files
// shared between tasks are read and hashed once. It is an explicit per-build
// object rather than a process-wide singleton, so concurrent builds in one
// process stay isolated.
type HashCache struct {
	mu     sync.Mutex
	hashes map[string]string
}

// NewHashCache returns an empty per-build hash cache.
func NewHashCache() *HashCache {
	return &HashCache{hashes: make(map[string]string)}
}

// File returns the content hash of the file at path, computing it on first
// use.
func (c *HashCache) File(path string) (string, error) {
	c.mu.Lock()
	if h, ok := c.hashes[path]; ok {
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	h, err := hashFile(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.hashes[path] = h
	c.mu.Unlock()
	return h, nil
}

// Files hashes many files with bounded concurrency, in fixed-size batches so
// very large input sets do not balloon resident memory. Results align with
// the input slice.
func (c *HashCache) Files(ctx context.Context, paths []string, concurrency int) ([]string, error) {
	const batchSize = 512
	return parallel.BatchedMap(ctx, paths, concurrency, batchSize, func(_ context.Context, p string) (string, error) {
		return c.File(p)
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digest := xxhash.New()
	if _, err := io.Copy(digest, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// hashStrings folds an ordered list of strings into one hex digest.
func hashStrings(parts []string) string {
	digest := xxhash.New()
	for _, p := range parts {
		_, _ = digest.WriteString(p)
		_, _ = digest.Write([]byte{0})
	}
	return hex.EncodeToString(digest.Sum(nil))
}
