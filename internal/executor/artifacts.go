package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sremani/chengis/internal/domain/build"
)

// collectArtifacts resolves patterns against workspace, copies each match
// into {artifactsRoot}/{jobID}/{buildNumber}/ with the relative path
// flattened ('/' replaced by '_'), and returns the recorded metadata. A
// pattern with no '/' matches at any depth; a pattern containing '/' is
// matched literally relative to workspace.
func collectArtifacts(workspace, artifactsRoot, jobID string, buildNumber int64, patterns []string) ([]build.Artifact, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	destDir := filepath.Join(artifactsRoot, jobID, strconv.FormatInt(buildNumber, 10))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var matches []string
	for _, pat := range patterns {
		found, err := resolvePattern(workspace, pat)
		if err != nil {
			continue
		}
		for _, m := range found {
			if !seen[m] {
				seen[m] = true
				matches = append(matches, m)
			}
		}
	}

	artifacts := make([]build.Artifact, 0, len(matches))
	for _, abs := range matches {
		rel, err := filepath.Rel(workspace, abs)
		if err != nil {
			rel = filepath.Base(abs)
		}
		flat := strings.ReplaceAll(rel, string(filepath.Separator), "_")
		flat = strings.ReplaceAll(flat, "/", "_")
		dest := filepath.Join(destDir, flat)

		size, sum, err := copyAndHash(abs, dest)
		if err != nil {
			continue
		}
		artifacts = append(artifacts, build.Artifact{
			Name:        flat,
			Path:        dest,
			Size:        size,
			ContentType: guessContentType(abs),
			SHA256:      sum,
		})
	}
	return artifacts, nil
}

// resolvePattern expands a glob-like pattern. Patterns without a path
// separator match the basename at any depth under root; patterns
// containing '/' are resolved literally (relative to root) via
// filepath.Glob.
func resolvePattern(root, pattern string) ([]string, error) {
	if !strings.Contains(pattern, "/") {
		var out []string
		err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if info.IsDir() {
				return nil
			}
			if ok, _ := filepath.Match(pattern, info.Name()); ok {
				out = append(out, path)
			}
			return nil
		})
		return out, err
	}
	return filepath.Glob(filepath.Join(root, pattern))
}

func copyAndHash(src, dst string) (int64, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return 0, "", err
	}
	defer out.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func guessContentType(path string) string {
	ct := mime.TypeByExtension(filepath.Ext(path))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
