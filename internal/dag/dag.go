// Package dag provides the adjacency, cycle and ready-set helpers the
// Executor's DAG mode uses to decide which stages may run next.
package dag

import "fmt"

// Graph is an adjacency map of node name -> set of dependency names.
type Graph struct {
	deps map[string]map[string]bool
	all  []string
}

// New builds a Graph from a node -> dependency-list map, rejecting cycles.
func New(dependencies map[string][]string) (*Graph, error) {
	g := &Graph{deps: make(map[string]map[string]bool, len(dependencies))}
	for name, deps := range dependencies {
		set := make(map[string]bool, len(deps))
		for _, d := range deps {
			set[d] = true
		}
		g.deps[name] = set
		g.all = append(g.all, name)
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.all))
	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("dependency cycle detected at %q", name)
		}
		color[name] = gray
		for dep := range g.deps[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range g.all {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// Ready reports whether node's dependencies are all present in completed.
func (g *Graph) Ready(node string, completed map[string]bool) bool {
	for dep := range g.deps[node] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Blocked reports whether any of node's dependencies are present in failed.
func (g *Graph) Blocked(node string, failed map[string]bool) bool {
	for dep := range g.deps[node] {
		if failed[dep] {
			return true
		}
	}
	return false
}

// Nodes returns all node names in the graph. The order follows iteration
// over the map passed to New and is therefore not defined.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.all...)
}

// ReadySet returns the subset of pending nodes whose dependencies are all
// satisfied in completed and which are not blocked by a failed dependency.
// Blocked nodes are returned separately so the caller can mark them
// aborted without running them.
func (g *Graph) ReadySet(pending []string, completed, failed map[string]bool) (ready, blocked []string) {
	for _, node := range pending {
		switch {
		case g.Blocked(node, failed):
			blocked = append(blocked, node)
		case g.Ready(node, completed):
			ready = append(ready, node)
		}
	}
	return ready, blocked
}
