package executor

import (
	"fmt"
	"sync"

	"github.com/sremani/chengis/internal/dag"
	"github.com/sremani/chengis/internal/domain/build"
	"github.com/sremani/chengis/internal/domain/pipeline"
)

// runDAGStages executes stages as a dependency graph with bounded
// concurrency: a stage runs once every stage it depends on has completed,
// and is marked aborted without running if any dependency failed or was
// aborted.
func (e *Executor) runDAGStages(sc stageContext, stages []pipeline.Stage) ([]build.StageResult, error) {
	deps := make(map[string][]string, len(stages))
	byName := make(map[string]pipeline.Stage, len(stages))
	for _, s := range stages {
		deps[s.Name] = s.DependsOn
		byName[s.Name] = s
	}
	graph, err := dag.New(deps)
	if err != nil {
		return nil, fmt.Errorf("executor: %w", err)
	}

	limit := e.deps.MaxConcurrentStages
	if limit <= 0 {
		limit = 4
	}
	sem := make(chan struct{}, limit)

	var (
		mu        sync.Mutex
		completed = make(map[string]bool, len(stages))
		failed    = make(map[string]bool, len(stages))
		results   = make(map[string]build.StageResult, len(stages))
		order     = make([]string, 0, len(stages))
		pending   = graph.Nodes()
		wg        sync.WaitGroup
	)

	for len(pending) > 0 {
		mu.Lock()
		ready, blocked := graph.ReadySet(pending, completed, failed)
		var remaining []string
		readySet := make(map[string]bool, len(ready))
		for _, n := range ready {
			readySet[n] = true
		}
		blockedSet := make(map[string]bool, len(blocked))
		for _, n := range blocked {
			blockedSet[n] = true
		}
		for _, n := range pending {
			if !readySet[n] && !blockedSet[n] {
				remaining = append(remaining, n)
			}
		}
		for _, name := range blocked {
			results[name] = build.StageResult{Name: name, Status: build.StageStatusAborted, Reason: "Dependency failed"}
			completed[name] = true
			failed[name] = true
			order = append(order, name)
		}
		mu.Unlock()

		for _, name := range ready {
			name := name
			stage := byName[name]
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				res := e.executeStage(sc, stage)
				mu.Lock()
				results[name] = res
				completed[name] = true
				order = append(order, name)
				if res.Status == build.StageStatusFailure || res.Status == build.StageStatusAborted {
					failed[name] = true
				}
				mu.Unlock()
			}()
		}

		wg.Wait()
		mu.Lock()
		pending = remaining
		mu.Unlock()
	}

	// Stage results are appended in completion order, not declaration order;
	// callers needing declaration order sort by stage name afterward.
	ordered := make([]build.StageResult, 0, len(stages))
	for _, name := range order {
		ordered = append(ordered, results[name])
	}
	return ordered, nil
}
