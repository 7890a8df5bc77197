package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tylerbutler/buildgraph/internal/ctxlog"
	"github.com/tylerbutler/buildgraph/internal/fsutil"
	"github.com/tylerbutler/buildgraph/internal/taskgraph"
)

// Options configures cache behavior for one build run.
type Options struct {
	// ReadOnly keeps lookups working but turns Store into a no-op.
	ReadOnly bool
	// Verify re-hashes restored artifacts against the stored manifest and
	// degrades mismatches to a forced re-execution.
	Verify bool
	// Fix deletes corrupted entries so the rebuild regenerates them.
	Fix bool
	// Concurrency bounds parallel file hashing.
	Concurrency int
}

// Engine is the cache engine for a build run. The cache directory is shared
// state; writes go through temp-and-rename so concurrent writers of the same
// key are idempotent.
type Engine struct {
	dir    string
	opts   Options
	hashes *HashCache
}

// New returns an Engine rooted at dir.
func New(dir string, opts Options) *Engine {
	return &Engine{dir: dir, opts: opts, hashes: NewHashCache()}
}

// HashCache exposes the per-build file hash memo, shared with input scans.
func (e *Engine) HashCache() *HashCache { return e.hashes }

// manifest is the stored description of one cache entry.
type manifest struct {
	Key       string        `json:"key"`
	Package   string        `json:"package"`
	Task      string        `json:"task"`
	Command   string        `json:"command"`
	Outputs   []outputEntry `json:"outputs"`
	CreatedAt time.Time     `json:"createdAt"`
}

type outputEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Entry is a cache hit: the stored manifest plus its on-disk location.
type Entry struct {
	manifest manifest
	dir      string
}

// OutputCount returns the number of stored artifacts.
func (en *Entry) OutputCount() int { return len(en.manifest.Outputs) }

// Key computes the content-derived cache key for a task: hashes of its input
// files, the resolved command string, and the upstream tasks' cache keys, so
// any upstream change transitively invalidates downstream keys. A task with
// no declared inputs or outputs is not cacheable and gets an empty key.
func (e *Engine) Key(ctx context.Context, task *taskgraph.Task, inputs, outputs []string) (string, error) {
	if len(inputs) == 0 && len(outputs) == 0 {
		return "", nil
	}

	sorted := append([]string(nil), inputs...)
	sort.Strings(sorted)
	hashes, err := e.hashes.Files(ctx, sorted, e.opts.Concurrency)
	if err != nil {
		return "", fmt.Errorf("hashing inputs for %s: %w", task.ID(), err)
	}

	parts := make([]string, 0, len(sorted)*2+8)
	parts = append(parts, task.ID(), task.Command)
	for i, p := range sorted {
		rel := p
		if r, err := filepath.Rel(task.Pkg.Dir, p); err == nil {
			rel = r
		}
		parts = append(parts, rel, hashes[i])
	}
	parts = append(parts, outputs...)

	upstream := make([]string, 0, len(task.Deps))
	for _, dep := range task.Deps {
		upstream = append(upstream, dep.ID()+"="+dep.CacheKey)
	}
	sort.Strings(upstream)
	parts = append(parts, upstream...)

	return hashStrings(parts), nil
}

func (e *Engine) entryDir(key string) string {
	return filepath.Join(e.dir, "objects", key[:2], key)
}

// Lookup returns the stored entry for key, or a miss. A corrupted manifest is
// treated as a miss with a warning; in fix mode the entry is deleted so the
// rebuild regenerates it.
func (e *Engine) Lookup(ctx context.Context, key string) (*Entry, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	logger := ctxlog.FromContext(ctx)

	dir := e.entryDir(key)
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil || m.Key != key {
		logger.Warn("Corrupted cache manifest, treating as a miss.", "key", key, "error", err)
		e.discard(ctx, key)
		return nil, false, nil
	}
	return &Entry{manifest: m, dir: dir}, true, nil
}

// Restore copies the entry's artifacts back into the package directory. In
// verify mode each restored file is re-hashed against the manifest first; a
// mismatch returns a CorruptEntryError so the caller can force a rebuild.
func (e *Engine) Restore(ctx context.Context, entry *Entry, pkgDir string) error {
	for i, out := range entry.manifest.Outputs {
		blob := filepath.Join(entry.dir, "files", fmt.Sprintf("%d", i))
		if e.opts.Verify {
			h, err := hashFile(blob)
			if err != nil {
				return &CorruptEntryError{Key: entry.manifest.Key, Path: out.Path, Reason: err.Error()}
			}
			if h != out.Hash {
				if e.opts.Fix {
					e.discard(ctx, entry.manifest.Key)
				}
				return &CorruptEntryError{Key: entry.manifest.Key, Path: out.Path, Reason: "content hash mismatch"}
			}
		}
		if err := fsutil.CopyFile(blob, filepath.Join(pkgDir, out.Path)); err != nil {
			return fmt.Errorf("restoring %s: %w", out.Path, err)
		}
	}
	return nil
}

// Store records the task's output files under key. It is a no-op in
// read-only mode. Writes land in a temp directory renamed into place, so a
// concurrent writer of the same key wins or loses atomically either way.
func (e *Engine) Store(ctx context.Context, task *taskgraph.Task, key string, outputs []string) error {
	if key == "" {
		return nil
	}
	logger := ctxlog.FromContext(ctx)
	if e.opts.ReadOnly {
		logger.Debug("Cache is read-only, skipping store.", "task", task.ID())
		return nil
	}

	dir := e.entryDir(key)
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dir), ".store-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	m := manifest{
		Key:       key,
		Package:   task.Pkg.Name,
		Task:      task.Name,
		Command:   task.Command,
		CreatedAt: time.Now().UTC(),
	}

	sorted := append([]string(nil), outputs...)
	sort.Strings(sorted)
	for i, out := range sorted {
		src := filepath.Join(task.Pkg.Dir, out)
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("declared output %s missing after task %s: %w", out, task.ID(), err)
		}
		h, err := hashFile(src)
		if err != nil {
			return err
		}
		if err := fsutil.CopyFile(src, filepath.Join(tmp, "files", fmt.Sprintf("%d", i))); err != nil {
			return err
		}
		m.Outputs = append(m.Outputs, outputEntry{Path: out, Hash: h, Size: info.Size()})
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(tmp, "manifest.json"), data, 0o644); err != nil {
		return err
	}

	if err := os.Rename(tmp, dir); err != nil {
		if _, statErr := os.Stat(dir); statErr == nil {
			// Another writer of the same key got there first; the content is
			// identical by construction.
			return nil
		}
		return err
	}
	logger.Debug("Stored cache entry.", "task", task.ID(), "key", key, "outputs", len(m.Outputs))
	return nil
}

// discard removes an entry from disk, ignoring errors; losing a cache entry
// only costs a rebuild.
func (e *Engine) discard(ctx context.Context, key string) {
	if e.opts.ReadOnly {
		return
	}
	if err := os.RemoveAll(e.entryDir(key)); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to remove cache entry.", "key", key, "error", err)
	}
}

// Prune removes entries older than maxAge, then removes oldest-first until
// total size is under maxBytes. Zero values disable the respective policy.
// Pruning is independent of any single build run.
func (e *Engine) Prune(ctx context.Context, maxAge time.Duration, maxBytes int64) error {
	logger := ctxlog.FromContext(ctx)

	type pruneEntry struct {
		key       string
		createdAt time.Time
		size      int64
	}
	var entries []pruneEntry

	manifests, err := fsutil.FindFilesByExtension(filepath.Join(e.dir, "objects"), ".json")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, path := range manifests {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var m manifest
		if err := json.Unmarshal(data, &m); err != nil {
			e.discard(ctx, filepath.Base(filepath.Dir(path)))
			continue
		}
		var size int64
		for _, out := range m.Outputs {
			size += out.Size
		}
		entries = append(entries, pruneEntry{key: m.Key, createdAt: m.CreatedAt, size: size})
	}

	removed := 0
	var total int64
	now := time.Now()
	kept := entries[:0]
	for _, en := range entries {
		if maxAge > 0 && now.Sub(en.createdAt) > maxAge {
			e.discard(ctx, en.key)
			removed++
			continue
		}
		total += en.size
		kept = append(kept, en)
	}

	if maxBytes > 0 && total > maxBytes {
		sort.Slice(kept, func(i, j int) bool { return kept[i].createdAt.Before(kept[j].createdAt) })
		for _, en := range kept {
			if total <= maxBytes {
				break
			}
			e.discard(ctx, en.key)
			total -= en.size
			removed++
		}
	}

	logger.Info("Cache pruned.", "removed", removed, "remaining_bytes", total)
	return nil
}
