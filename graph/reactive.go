package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/smallnest/taskgraphgo/log"
)

// ReactiveRunner recomputes reactive tasks when their inputs change. It is a
// separate scheduling discipline from Runner: readiness is "input changed
// since last run" rather than "inputs completed", and successful runs update
// edges in place without a collection phase.
type ReactiveRunner struct {
	graph     *Graph
	resolvers *ResolverRegistry
	logger    log.Logger

	// One reactive pass mutates the graph at a time.
	mu sync.Mutex
}

// NewReactiveRunner creates a reactive runner for the graph.
func NewReactiveRunner(g *Graph) *ReactiveRunner {
	return &ReactiveRunner{
		graph:  g,
		logger: log.GetDefaultLogger(),
	}
}

// SetResolvers installs the input resolver registry.
func (rr *ReactiveRunner) SetResolvers(reg *ResolverRegistry) {
	rr.resolvers = reg
}

// SetLogger replaces the runner's logger.
func (rr *ReactiveRunner) SetLogger(l log.Logger) {
	if l != nil {
		rr.logger = l
	}
}

// Push applies an input delta to a reactive task and propagates
// recomputation through downstream reactive tasks in topological order.
// Tasks that report "no change" stop propagation along their branch.
func (rr *ReactiveRunner) Push(ctx context.Context, taskID, port string, value any) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	t, ok := rr.graph.GetTask(taskID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if !t.Definition().Reactive || t.Definition().ExecuteReactive == nil {
		return fmt.Errorf("task %s (%s) is not reactive", taskID, t.Type())
	}

	seed := copyMap(t.SeedInput())
	if seed == nil {
		seed = make(map[string]any)
	}
	seed[port] = value
	t.SetSeedInput(seed)

	layers, err := rr.graph.TopologicalLayers()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	dirty := map[string]bool{taskID: true}

	for _, layer := range layers {
		for _, task := range layer {
			if !dirty[task.ID()] {
				continue
			}
			def := task.Definition()
			if !def.Reactive || def.ExecuteReactive == nil {
				// Only reactive tasks recompute opportunistically; the
				// delta does not travel past a non-reactive task here.
				rr.logger.Debug("reactive run %s: skipping non-reactive task %s", runID, task.ID())
				continue
			}

			changed, rerr := rr.recompute(ctx, runID, task)
			if rerr != nil {
				return rerr
			}
			if changed {
				for _, e := range rr.graph.OutEdges(task.ID()) {
					dirty[e.TargetTaskID] = true
				}
			}
		}
	}

	return nil
}

// recompute re-invokes a reactive task with its previous output and updates
// its outgoing edges in place when the output changed.
func (rr *ReactiveRunner) recompute(ctx context.Context, runID string, t *Task) (bool, error) {
	prev := t.OutputData()
	seed := t.SeedInput()

	inputs, err := rr.materializeReactive(ctx, t, seed)
	if err != nil {
		_ = t.Reset()
		_ = t.fail(err)
		rr.failEdges(t, err)
		return false, err
	}

	if t.Status().Terminal() {
		if err := t.Reset(); err != nil {
			return false, err
		}
	}
	if err := t.transition(TaskProcessing); err != nil {
		return false, err
	}
	t.setInput(inputs)

	rc := &RunContext{
		RunID:      runID,
		TaskID:     t.ID(),
		progressFn: rr.graph.notifyProgress,
	}

	out, changed, err := t.Definition().ExecuteReactive(ctx, rc, inputs, prev)
	if err != nil {
		werr := &TaskExecutionError{TaskID: t.ID(), Err: err}
		_ = t.fail(werr)
		rr.failEdges(t, werr)
		return false, werr
	}

	if !changed {
		_ = t.complete(prev)
		return false, nil
	}

	_ = t.complete(out)
	for _, e := range rr.graph.OutEdges(t.ID()) {
		e.complete(extractPortValue(out, e.SourcePortID))
	}
	return true, nil
}

func (rr *ReactiveRunner) failEdges(t *Task, err error) {
	for _, d := range rr.graph.OutEdges(t.ID()) {
		d.fail(err)
	}
}

// materializeReactive assembles inputs for a reactive re-run: defaults, the
// accumulated seed deltas, then any completed edge values. Edges that have
// not produced yet simply contribute nothing; a failed edge is fatal.
func (rr *ReactiveRunner) materializeReactive(ctx context.Context, t *Task, seed map[string]any) (map[string]any, error) {
	def := t.Definition()
	inputs := make(map[string]any)

	for _, p := range def.Inputs {
		if p.Default != nil {
			inputs[p.ID] = p.Default
		}
	}
	for k, v := range seed {
		inputs[k] = v
	}

	for _, d := range rr.graph.InEdges(t.ID()) {
		switch d.Status() {
		case DataflowCompleted:
			v, _ := d.Value()
			if IsWildcard(d.TargetPortID) {
				if m, ok := v.(map[string]any); ok {
					for mk, mv := range m {
						inputs[mk] = mv
					}
				}
			} else {
				inputs[d.TargetPortID] = v
			}
		case DataflowFailed:
			return nil, &InputResolutionError{TaskID: t.ID(), Port: d.TargetPortID, Err: d.Err()}
		}
	}

	for _, p := range def.Inputs {
		if p.Format == "" {
			continue
		}
		s, ok := inputs[p.ID].(string)
		if !ok {
			continue
		}
		if rr.resolvers == nil {
			return nil, &InputResolutionError{TaskID: t.ID(), Port: p.ID, Err: ErrNoResolver}
		}
		resolved, err := rr.resolvers.Resolve(ctx, p.Format, s)
		if err != nil {
			return nil, &InputResolutionError{TaskID: t.ID(), Port: p.ID, Err: err}
		}
		inputs[p.ID] = resolved
	}

	return inputs, nil
}
