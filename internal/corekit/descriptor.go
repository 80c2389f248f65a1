// Package corekit holds the cross-cutting helpers shared by the services
// in this module: self-description, observation hooks, retry and
// pagination clamping, and tracing. None of it carries domain semantics.
package corekit

// Layer describes the architectural slice a service belongs to: ingress
// (scheduler/event intake), adapter (plugin/collaborator bridges), engine
// (policy/approval/cache/executor), data (storage), security (secrets).
type Layer string

const (
	LayerIngress  Layer = "ingress"
	LayerAdapter  Layer = "adapter"
	LayerEngine   Layer = "engine"
	LayerData     Layer = "data"
	LayerSecurity Layer = "security"
)

// Descriptor advertises a service's placement and capabilities. It does not
// change runtime behavior; it lets the runtime wiring root and diagnostics
// reason about registered services uniformly.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of d with additional capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}

// DescriptorProvider is implemented by any service willing to describe
// itself for orchestration/diagnostics purposes.
type DescriptorProvider interface {
	Descriptor() Descriptor
}
