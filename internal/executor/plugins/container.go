package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sremani/chengis/internal/collaborators"
)

var (
	imageRefPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*(:[a-zA-Z0-9._-]+)?(@sha256:[a-f0-9]{64})?$`)
	volumeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// ContainerExecutor runs a container step by building a `docker run`
// invocation and executing it through the wrapped ProcessExecutor
// collaborator — the core never links against a container runtime SDK
// directly, matching "container wrapping" scope (it wraps, it does not
// implement a runtime).
type ContainerExecutor struct {
	Process collaborators.ProcessExecutor
}

// Execute validates in.Step.Container, builds a safely quoted `docker run`
// command, and runs it.
func (e *ContainerExecutor) Execute(ctx context.Context, in Input) (collaborators.ProcessResult, error) {
	spec := in.Step.Container
	if spec == nil || spec.Image == "" {
		return collaborators.ProcessResult{}, fmt.Errorf("plugins: container step %q has no image", in.Step.Name)
	}
	if !imageRefPattern.MatchString(spec.Image) {
		return collaborators.ProcessResult{}, fmt.Errorf("plugins: container step %q: malformed image reference %q", in.Step.Name, spec.Image)
	}

	workingDir := spec.WorkingDir
	if workingDir == "" {
		workingDir = "/workspace"
	}
	if !filepath.IsAbs(workingDir) || strings.Contains(workingDir, "..") {
		return collaborators.ProcessResult{}, fmt.Errorf("plugins: container step %q: working dir %q must be absolute and contain no ..", in.Step.Name, workingDir)
	}

	args := []string{"run", "--rm"}
	args = append(args, "-v", shellQuote(in.Workspace)+":"+shellQuote(workingDir))
	args = append(args, "-w", shellQuote(workingDir))

	if spec.NetworkMode != "" {
		args = append(args, "--network", shellQuote(spec.NetworkMode))
	}

	for _, vol := range spec.Volumes {
		name, mountPath, err := splitVolume(vol)
		if err != nil {
			return collaborators.ProcessResult{}, fmt.Errorf("plugins: container step %q: %w", in.Step.Name, err)
		}
		args = append(args, "-v", name+":"+shellQuote(mountPath))
	}

	env := make(map[string]string, len(in.Env)+len(in.Step.Env))
	for k, v := range in.Env {
		env[k] = v
	}
	for k, v := range in.Step.Env {
		env[k] = v
	}
	for _, k := range sortedEnvKeys(env) {
		args = append(args, "-e", shellQuote(k+"="+env[k]))
	}

	args = append(args, spec.ExtraArgs...)
	args = append(args, shellQuote(spec.Image))
	if in.Step.Command != "" {
		args = append(args, "sh", "-c", shellQuote(in.Step.Command))
	}

	timeout := in.Step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	return e.Process.Execute(ctx, collaborators.ProcessRequest{
		Command:    "docker " + strings.Join(args, " "),
		Dir:        in.Workspace,
		Env:        nil, // env is passed into the container via -e, not the host process
		Timeout:    timeout,
		MaskValues: in.MaskValues,
	})
}

func splitVolume(vol string) (name, mountPath string, err error) {
	parts := strings.SplitN(vol, ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed volume declaration %q, want name:/mount/path", vol)
	}
	name, mountPath = parts[0], parts[1]
	if !volumeNamePattern.MatchString(name) {
		return "", "", fmt.Errorf("unsafe volume name %q", name)
	}
	if !filepath.IsAbs(mountPath) || strings.Contains(mountPath, "..") {
		return "", "", fmt.Errorf("volume mount path %q must be absolute and contain no ..", mountPath)
	}
	return name, mountPath, nil
}

func sortedEnvKeys(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k := range env {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// shellQuote wraps s in single quotes, safely escaping any embedded single
// quote, so interpolated values can never break out of their argument
// position ("safe shell quoting of all interpolated values").
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
