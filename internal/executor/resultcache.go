package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

// resultCache stores a stage's last successful outcome keyed by job id and a
// content fingerprint of the stage definition plus the environment it ran
// with, so an unchanged stage can be skipped on a rerun.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]build.StageResult
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]build.StageResult)}
}

func cacheKey(jobID, fingerprint string) string {
	return jobID + "\x00" + fingerprint
}

func (c *resultCache) get(jobID, fingerprint string) (build.StageResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[cacheKey(jobID, fingerprint)]
	return r, ok
}

func (c *resultCache) put(jobID, fingerprint string, result build.StageResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(jobID, fingerprint)] = result
}

// stageFingerprint hashes everything that determines a stage's outcome: its
// steps (name, kind, command, container image, env) and the environment
// overlay it executes under. Two otherwise-identical reruns with the same
// inputs produce the same fingerprint.
func stageFingerprint(stage pipeline.Stage, env map[string]string) string {
	h := sha256.New()
	fmt.Fprintf(h, "stage=%s\n", stage.Name)
	for _, step := range stage.Steps {
		fmt.Fprintf(h, "step=%s kind=%s cmd=%s\n", step.Name, step.Kind, step.Command)
		if step.Container != nil {
			fmt.Fprintf(h, "image=%s\n", step.Container.Image)
		}
		for _, k := range sortedKeys(step.Env) {
			fmt.Fprintf(h, "senv:%s=%s\n", k, step.Env[k])
		}
	}
	for _, k := range sortedKeys(env) {
		fmt.Fprintf(h, "benv:%s=%s\n", k, env[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
