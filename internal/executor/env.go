package executor

import (
	"fmt"
	"strings"

	"github.com/sremani/chengis/internal/domain/build"
)

// buildEnv computes the environment overlay injected into every step: build
// identity, workspace, optional git info, parameters as PARAM_<NAME>,
// secrets by name, and any caller-supplied env additions.
func buildEnv(b build.Build, jobName, workspace string, git *build.GitInfo, secrets map[string]string, callerEnv map[string]string) map[string]string {
	env := map[string]string{
		"BUILD_ID":     b.ID,
		"BUILD_NUMBER": fmt.Sprintf("%d", b.Number),
		"JOB_NAME":     jobName,
		"WORKSPACE":    workspace,
	}
	if git != nil {
		env["GIT_BRANCH"] = git.Branch
		env["GIT_COMMIT"] = git.Commit
		env["GIT_COMMIT_SHORT"] = git.CommitShort
		env["GIT_AUTHOR"] = git.Author
		env["GIT_MESSAGE"] = git.Message
	}
	for name, value := range b.Parameters {
		env[paramEnvName(name)] = value
	}
	for name, value := range secrets {
		env[name] = value
	}
	for k, v := range callerEnv {
		env[k] = v
	}
	return env
}

// paramEnvName converts a parameter name to its PARAM_<UPPER_NAME> form,
// replacing dashes with underscores.
func paramEnvName(name string) string {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return "PARAM_" + upper
}

// secretValues returns the values (not names) of a secret map, used to seed
// the step output masker.
func secretValues(secrets map[string]string) []string {
	out := make([]string, 0, len(secrets))
	for _, v := range secrets {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
