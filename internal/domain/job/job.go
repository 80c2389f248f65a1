// Package job holds the Job value model: a named binding of a Pipeline to a
// source repository and its triggers.
package job

import (
	"time"

	"github.com/sremani/chengis/internal/domain/pipeline"
)

// SourceBinding describes the VCS repository and ref a Job builds from.
type SourceBinding struct {
	Repository string
	DefaultRef string
}

// Job is a named, persisted binding of a Pipeline to a source repository.
type Job struct {
	ID        string
	OrgID     string
	Name      string
	Pipeline  pipeline.Pipeline
	Source    SourceBinding
	CreatedAt time.Time
	UpdatedAt time.Time
	Enabled   bool
}
