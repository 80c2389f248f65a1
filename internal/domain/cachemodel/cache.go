// Package cachemodel holds the CacheEntry value model for the Artifact Cache.
package cachemodel

import "time"

// Entry is an immutable (job, resolved-key) -> directory blob record. Once
// written, the first writer for a key wins and later saves are no-ops.
type Entry struct {
	ID        string
	JobID     string
	Key       string
	Paths     []string
	Dir       string
	SizeBytes int64
	CreatedAt time.Time
}
