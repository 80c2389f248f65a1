// Package cacheengine implements the Artifact Cache: content-keyed
// restore/save of build cache declarations, with restore-key prefix
// fallback and time-based eviction.
package cacheengine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sremani/chengis/internal/collaborators"
	"github.com/sremani/chengis/internal/domain/cachemodel"
	"github.com/sremani/chengis/internal/domain/pipeline"
	"github.com/sremani/chengis/internal/logging"
	"github.com/sremani/chengis/internal/storage"
)

var hashFilesPattern = regexp.MustCompile(`\{\{\s*hashFiles\('([^']+)'\)\s*\}\}`)

// Engine is the Artifact Cache. root is the filesystem location under which
// {job}/{key} directories are written.
type Engine struct {
	store   storage.CacheEntryStore
	root    string
	log     *logging.Logger
	metrics collaborators.MetricsRecorder
}

// New constructs an Engine backed by store, writing cache blobs under root.
func New(store storage.CacheEntryStore, root string, log *logging.Logger, metrics collaborators.MetricsRecorder) *Engine {
	return &Engine{store: store, root: root, log: log, metrics: metrics}
}

// ResolveKey expands every `{{ hashFiles('path') }}` macro in template by
// reading path relative to workspace, hashing it, and substituting the
// first 16 hex characters of its SHA-256. A missing file substitutes the
// literal "missing" and logs a warning.
func (e *Engine) ResolveKey(workspace, template string) string {
	return hashFilesPattern.ReplaceAllStringFunc(template, func(match string) string {
		sub := hashFilesPattern.FindStringSubmatch(match)
		relPath := sub[1]
		data, err := os.ReadFile(filepath.Join(workspace, relPath))
		if err != nil {
			if e.log != nil {
				e.log.WithField("path", relPath).Warn("cacheengine: hashFiles target missing, substituting literal 'missing'")
			}
			return "missing"
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:])[:16]
	})
}

// RestoreResult reports what happened restoring one cache declaration.
type RestoreResult struct {
	Declaration pipeline.CacheDeclaration
	Hit         bool
	EffectiveKey string
}

// Restore attempts, for each declaration, an exact-key restore and falls
// back to each restore-key prefix in order, taking the first match whose
// directory exists on disk.
func (e *Engine) Restore(ctx context.Context, workspace, jobID string, decls []pipeline.CacheDeclaration) ([]RestoreResult, error) {
	results := make([]RestoreResult, 0, len(decls))
	for _, decl := range decls {
		key := e.ResolveKey(workspace, decl.KeyTemplate)

		if entry, ok, err := e.store.FindEntry(ctx, jobID, key); err == nil && ok {
			if err := e.copyInto(entry.Dir, workspace, decl.Paths); err == nil {
				e.recordHit(true)
				results = append(results, RestoreResult{Declaration: decl, Hit: true, EffectiveKey: key})
				continue
			}
		}

		hit := false
		effective := key
		for _, prefix := range decl.RestoreKeys {
			entry, ok, err := e.findByPrefix(ctx, jobID, prefix)
			if err != nil || !ok {
				continue
			}
			if err := e.copyInto(entry.Dir, workspace, decl.Paths); err == nil {
				hit = true
				effective = entry.Key
				break
			}
		}
		e.recordHit(hit)
		results = append(results, RestoreResult{Declaration: decl, Hit: hit, EffectiveKey: effective})
	}
	return results, nil
}

// findByPrefix returns the newest entry for jobID whose key starts with
// prefix and whose backing directory still exists on disk.
func (e *Engine) findByPrefix(ctx context.Context, jobID, prefix string) (cachemodel.Entry, bool, error) {
	candidates, err := e.store.ListEntriesByPrefix(ctx, jobID, prefix)
	if err != nil {
		return cachemodel.Entry{}, false, err
	}
	for _, entry := range candidates {
		if _, err := os.Stat(entry.Dir); err == nil {
			return entry, true, nil
		}
	}
	return cachemodel.Entry{}, false, nil
}

// Save writes each declaration whose resolved key is not already present.
// Saves are first-writer-wins and immutable: SaveEntry on an existing
// key is a no-op handled by the store.
func (e *Engine) Save(ctx context.Context, workspace, jobID string, decls []pipeline.CacheDeclaration) error {
	for _, decl := range decls {
		key := e.ResolveKey(workspace, decl.KeyTemplate)
		dir := filepath.Join(e.root, jobID, sanitizeKey(key))

		if _, ok, _ := e.store.FindEntry(ctx, jobID, key); ok {
			continue // immutable: first writer wins
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cacheengine: create cache dir: %w", err)
		}
		var size int64
		for _, p := range decl.Paths {
			n, err := copyPath(filepath.Join(workspace, p), filepath.Join(dir, filepath.Base(p)))
			if err != nil {
				return fmt.Errorf("cacheengine: save %q: %w", p, err)
			}
			size += n
		}

		_, _, err := e.store.SaveEntry(ctx, cachemodel.Entry{
			JobID:     jobID,
			Key:       key,
			Paths:     decl.Paths,
			Dir:       dir,
			SizeBytes: size,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("cacheengine: persist cache entry: %w", err)
		}
	}
	return nil
}

// Evict deletes persisted entries older than retention. Their directories
// on disk are not removed.
func (e *Engine) Evict(ctx context.Context, retention time.Duration) (int, error) {
	return e.store.EvictOlderThan(ctx, time.Now().UTC().Add(-retention))
}

func (e *Engine) copyInto(srcDir, workspace string, paths []string) error {
	for _, p := range paths {
		src := filepath.Join(srcDir, filepath.Base(p))
		dst := filepath.Join(workspace, p)
		if _, err := copyPath(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) recordHit(hit bool) {
	if e.metrics != nil {
		e.metrics.RecordCacheResult(hit)
	}
}

func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", "..", "_").Replace(key)
}

// copyPath copies src (file or directory) to dst recursively, returning the
// total number of bytes copied.
func copyPath(src, dst string) (int64, error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}

	var total int64
	err = filepath.Walk(src, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if fi.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		n, err := copyFile(path, target)
		total += n
		return err
	})
	return total, err
}

func copyFile(src, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, err
	}
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()
	return io.Copy(out, in)
}
