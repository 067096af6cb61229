package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/smallnest/taskgraphgo/cache"
	"github.com/smallnest/taskgraphgo/log"
)

// RunConfig configures a graph run.
type RunConfig struct {
	// Concurrency bounds the number of tasks executing at once.
	Concurrency int

	// FailFast aborts the rest of the run on the first task failure.
	// Otherwise failed branches surface in the result while peer branches
	// complete normally.
	FailFast bool

	// StreamBuffer is the capacity of every stream channel created during
	// the run. A full buffer blocks the producer.
	StreamBuffer int

	// AbortGrace bounds how long the runner waits for in-flight tasks to
	// reach a terminal state after cancellation. Tasks still running after
	// the grace period are abandoned and logged.
	AbortGrace time.Duration
}

// DefaultRunConfig returns the default run configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Concurrency:  8,
		StreamBuffer: DefaultStreamBuffer,
		AbortGrace:   5 * time.Second,
	}
}

// TaskResult is one task's terminal state within a run result.
type TaskResult struct {
	TaskID string
	Status TaskStatus
	Output map[string]any
	Err    error
}

// RunResult is the outcome of a graph run: each task's terminal state plus
// the collected outputs of the leaf tasks. A run with failed branches is
// still a result, not an error.
type RunResult struct {
	RunID  string
	Tasks  map[string]TaskResult
	Leaves map[string]TaskResult
}

// Failed reports whether any task ended in FAILED.
func (r *RunResult) Failed() bool {
	for _, tr := range r.Tasks {
		if tr.Status == TaskFailed {
			return true
		}
	}
	return false
}

// Aborted reports whether any task ended in ABORTED.
func (r *RunResult) Aborted() bool {
	for _, tr := range r.Tasks {
		if tr.Status == TaskAborted {
			return true
		}
	}
	return false
}

// Runner executes a graph: it evaluates readiness, launches tasks
// concurrently, applies the cache contract and collects results. A Runner
// drives one run at a time.
type Runner struct {
	graph     *Graph
	cfg       RunConfig
	cache     *cache.SingleFlight
	resolvers *ResolverRegistry
	logger    log.Logger

	wake chan struct{}
}

// NewRunner creates a runner for the graph with the default configuration.
func NewRunner(g *Graph) *Runner {
	return &Runner{
		graph:  g,
		cfg:    DefaultRunConfig(),
		logger: log.GetDefaultLogger(),
		wake:   make(chan struct{}, 1),
	}
}

// SetConfig replaces the run configuration.
func (r *Runner) SetConfig(cfg RunConfig) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRunConfig().Concurrency
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = DefaultStreamBuffer
	}
	if cfg.AbortGrace <= 0 {
		cfg.AbortGrace = DefaultRunConfig().AbortGrace
	}
	r.cfg = cfg
}

// SetCache installs an output cache. The cache is wrapped with single-flight
// semantics: concurrent producers for the same key collapse into one.
func (r *Runner) SetCache(c cache.OutputCache) {
	if c == nil {
		r.cache = nil
		return
	}
	if sf, ok := c.(*cache.SingleFlight); ok {
		r.cache = sf
		return
	}
	r.cache = cache.NewSingleFlight(c)
}

// SetResolvers installs the input resolver registry consulted during input
// materialization.
func (r *Runner) SetResolvers(reg *ResolverRegistry) {
	r.resolvers = reg
}

// SetLogger replaces the runner's logger.
func (r *Runner) SetLogger(l log.Logger) {
	if l != nil {
		r.logger = l
	}
}

// Run executes the graph until every task is terminal or the context is
// cancelled. Cancellation aborts non-terminal tasks; the abort is bounded by
// the configured grace period. The returned result covers every task; Run
// itself only errors on validation or misuse.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if err := r.graph.Validate(); err != nil {
		return nil, err
	}
	for _, t := range r.graph.Tasks() {
		if t.Status() != TaskPending {
			return nil, ErrRunInProgress
		}
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Drain any stale wake-up left over from a previous run.
	select {
	case <-r.wake:
	default:
	}

	unsub := r.graph.OnTaskStatus(func(string, TaskStatus) { r.nudge() })
	defer unsub()

	eg := &errgroup.Group{}
	eg.SetLimit(r.cfg.Concurrency)

	launched := make(map[string]bool, len(r.graph.Tasks()))

	r.logger.Debug("run %s: starting with %d tasks", runID, len(r.graph.Tasks()))

	for {
		r.failUnlaunchable(launched)

		if runCtx.Err() != nil {
			break
		}

		for _, t := range r.graph.Tasks() {
			if launched[t.ID()] || t.Status() != TaskPending {
				continue
			}
			if !r.ready(t) {
				continue
			}
			launched[t.ID()] = true
			task := t
			eg.Go(func() error {
				r.runTask(runCtx, runID, task)
				if r.cfg.FailFast && task.Status() == TaskFailed {
					cancel()
				}
				r.nudge()
				return nil
			})
		}

		if r.allTerminal() {
			break
		}

		select {
		case <-r.wake:
		case <-runCtx.Done():
		}
	}

	waitDone := make(chan struct{})
	go func() {
		_ = eg.Wait()
		close(waitDone)
	}()

	if runCtx.Err() != nil {
		select {
		case <-waitDone:
		case <-time.After(r.cfg.AbortGrace):
			r.logger.Warn("run %s: abort grace elapsed, abandoning unfinished tasks", runID)
		}
		abortErr := &AbortError{Err: runCtx.Err()}
		for _, t := range r.graph.Tasks() {
			if t.Status().Terminal() {
				continue
			}
			_ = t.abort(&AbortError{TaskID: t.ID(), Err: runCtx.Err()})
			r.failEdges(t, abortErr)
		}
	} else {
		<-waitDone
	}

	return r.collect(runID), nil
}

// nudge wakes the scheduling loop without blocking.
func (r *Runner) nudge() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// ready implements the readiness predicate: every inbound edge COMPLETED, or
// — for a streamable task — every inbound edge COMPLETED or STREAMING with a
// matching stream-mode input port. A non-streamable task always waits for
// COMPLETED on every inbound edge.
func (r *Runner) ready(t *Task) bool {
	inEdges := r.graph.InEdges(t.ID())

	allCompleted := true
	for _, d := range inEdges {
		if d.Status() != DataflowCompleted {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return true
	}

	if !t.Definition().Streamable {
		return false
	}

	for _, d := range inEdges {
		switch d.Status() {
		case DataflowCompleted:
		case DataflowStreaming:
			if !t.Definition().AcceptsStream(d.TargetPortID, r.sourcePortMode(d)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// sourcePortMode returns the stream mode of an edge's source port.
func (r *Runner) sourcePortMode(d *Dataflow) StreamMode {
	if IsWildcard(d.SourcePortID) {
		return StreamModeNone
	}
	src, ok := r.graph.GetTask(d.SourceTaskID)
	if !ok {
		return StreamModeNone
	}
	p, ok := src.Definition().OutputPort(d.SourcePortID)
	if !ok || p.Stream == "" {
		return StreamModeNone
	}
	return p.Stream
}

// failUnlaunchable fails every pending task whose inbound edges can never
// complete, cascading downstream until the frontier is stable. Such tasks
// never start: an upstream failure surfaces as an input resolution error,
// an upstream abort makes the task ABORTED.
func (r *Runner) failUnlaunchable(launched map[string]bool) {
	for {
		changed := false
		for _, t := range r.graph.Tasks() {
			if launched[t.ID()] || t.Status() != TaskPending {
				continue
			}
			for _, d := range r.graph.InEdges(t.ID()) {
				if d.Status() != DataflowFailed {
					continue
				}
				err := &InputResolutionError{TaskID: t.ID(), Port: d.TargetPortID, Err: d.Err()}
				if IsAbort(d.Err()) {
					_ = t.abort(&AbortError{TaskID: t.ID(), Err: d.Err()})
				} else {
					_ = t.fail(err)
				}
				r.failEdges(t, err)
				launched[t.ID()] = true
				changed = true
				break
			}
		}
		if !changed {
			return
		}
	}
}

func (r *Runner) allTerminal() bool {
	for _, t := range r.graph.Tasks() {
		if !t.Status().Terminal() {
			return false
		}
	}
	return true
}

// runTask materializes inputs, applies the cache contract and invokes the
// selected entry point.
func (r *Runner) runTask(ctx context.Context, runID string, t *Task) {
	inputs, prov, err := r.materializeInputs(ctx, t)
	if err != nil {
		r.logger.Debug("run %s: task %s input resolution failed: %v", runID, t.ID(), err)
		r.failTask(ctx, t, err)
		return
	}
	t.setInput(inputs)
	// Upstream chains come first; records already attached to the task (its
	// own provenance item) stay at the tail.
	prov = mergeProvenance(prov, t.Provenance())
	t.setProvenance(prov)

	rc := &RunContext{
		RunID:      runID,
		TaskID:     t.ID(),
		progressFn: r.graph.notifyProgress,
		provenance: prov,
	}

	def := t.Definition()
	if def.Cacheable && r.cache != nil && !hasStreamInput(inputs) {
		key, kerr := cache.CanonicalKey(inputs)
		if kerr != nil {
			r.logger.Warn("run %s: task %s inputs not canonicalizable, running uncached: %v", runID, t.ID(), kerr)
		} else {
			out, hit, cerr := r.cache.GetOrCompute(ctx, def.Type, key, func(cctx context.Context) (map[string]any, error) {
				return r.invokeBody(cctx, rc, t, inputs)
			})
			if cerr != nil {
				// The body already recorded its own failure; a joined
				// requester inherits the primary's error here.
				if !t.Status().Terminal() {
					r.failTask(ctx, t, cerr)
				}
				return
			}
			if hit {
				r.completeFromCache(t, out)
			}
			return
		}
	}

	_, _ = r.invokeBody(ctx, rc, t, inputs)
}

// invokeBody selects and invokes exactly one entry point for the run.
func (r *Runner) invokeBody(ctx context.Context, rc *RunContext, t *Task, inputs map[string]any) (map[string]any, error) {
	def := t.Definition()
	if r.chooseStreaming(t) {
		return r.runStreaming(ctx, rc, t, inputs)
	}
	if def.Execute == nil {
		err := &TaskExecutionError{TaskID: t.ID(), Err: fmt.Errorf("task type %s has no batch entry point", def.Type)}
		r.failTask(ctx, t, err)
		return nil, err
	}
	return r.runBatch(ctx, rc, t, inputs)
}

// chooseStreaming applies the entry-point selection rule: the streaming
// entry point is used when the task declares one and at least one outgoing
// edge leaves a stream-mode port — toward a streaming-ready consumer or a
// non-streaming consumer that needs accumulation.
func (r *Runner) chooseStreaming(t *Task) bool {
	def := t.Definition()
	if !def.Streamable || def.ExecuteStream == nil {
		return false
	}
	if def.Execute == nil {
		return true
	}
	for _, e := range r.graph.OutEdges(t.ID()) {
		if r.sourcePortMode(e) != StreamModeNone {
			return true
		}
	}
	return false
}

func (r *Runner) runBatch(ctx context.Context, rc *RunContext, t *Task, inputs map[string]any) (map[string]any, error) {
	if err := t.transition(TaskProcessing); err != nil {
		return nil, err
	}

	out, err := t.Definition().Execute(ctx, rc, inputs)
	if err != nil {
		werr := r.failTask(ctx, t, &TaskExecutionError{TaskID: t.ID(), Err: err})
		return nil, werr
	}

	if err := t.complete(out); err != nil {
		return nil, err
	}
	r.completeEdges(t, out)
	return out, nil
}

func (r *Runner) runStreaming(ctx context.Context, rc *RunContext, t *Task, inputs map[string]any) (map[string]any, error) {
	if err := t.transition(TaskStreaming); err != nil {
		return nil, err
	}
	r.graph.notifyStreamStart(t.ID())

	src, err := t.Definition().ExecuteStream(ctx, rc, inputs)
	if err != nil {
		werr := r.failTask(ctx, t, &TaskExecutionError{TaskID: t.ID(), Err: err})
		return nil, werr
	}

	modes := t.Definition().OutputStreamModes()

	var streamEdges, plainEdges []*Dataflow
	for _, e := range r.graph.OutEdges(t.ID()) {
		mode := r.sourcePortMode(e)
		consumer, ok := r.graph.GetTask(e.TargetTaskID)
		if ok && mode != StreamModeNone && consumer.Definition().AcceptsStream(e.TargetPortID, mode) {
			streamEdges = append(streamEdges, e)
		} else {
			plainEdges = append(plainEdges, e)
		}
	}

	// Accumulation happens once, at the source, before the tee: downstream
	// edges never accumulate on their own.
	if len(plainEdges) > 0 {
		src = AccumulateFinish(src, modes, r.cfg.StreamBuffer)
	}

	branches := Tee(src, len(streamEdges)+1, r.cfg.StreamBuffer)
	observer := branches[0]
	for i, e := range streamEdges {
		e.markStreaming(branches[i+1])
	}
	r.nudge()

	var finishData map[string]any
	sawFinish := false
	for {
		ev, rerr := observer.Recv(ctx)
		if rerr != nil {
			if errors.Is(rerr, ErrStreamClosed) {
				break
			}
			observer.Abandon()
			werr := r.failTask(ctx, t, rerr)
			return nil, werr
		}

		r.graph.notifyStreamChunk(t.ID(), ev)

		switch ev.Type {
		case EventFinish:
			finishData = ev.Data
			sawFinish = true
		case EventError:
			serr := &StreamError{TaskID: t.ID(), Err: ev.Err}
			_ = t.fail(serr)
			r.failEdges(t, serr)
			return nil, serr
		}

		if ev.Terminal() {
			break
		}
	}

	if !sawFinish {
		// The stream ended without a terminal event: an abort if the run is
		// being cancelled, a producer defect otherwise.
		if ctx.Err() != nil {
			werr := r.failTask(ctx, t, ctx.Err())
			return nil, werr
		}
		serr := &StreamError{TaskID: t.ID(), Err: fmt.Errorf("stream ended without a terminal event")}
		_ = t.fail(serr)
		r.failEdges(t, serr)
		return nil, serr
	}

	out := finishData
	if out == nil {
		out = map[string]any{}
	}

	if err := t.complete(out); err != nil {
		return nil, err
	}
	r.completeEdges(t, out)
	r.graph.notifyStreamEnd(t.ID(), out)
	return out, nil
}

// completeFromCache serves a cache hit: the task transitions directly to
// COMPLETED and downstream observers that requested streaming see exactly
// one synthesized finish event, keeping the event sequence uniform.
func (r *Runner) completeFromCache(t *Task, out map[string]any) {
	_ = t.complete(out)
	r.completeEdges(t, out)
	if t.Definition().Streamable {
		r.graph.notifyStreamChunk(t.ID(), FinishEvent(out))
		r.graph.notifyStreamEnd(t.ID(), out)
	}
}

// failTask records a failure or abort on the task and propagates it to the
// outgoing edges.
func (r *Runner) failTask(ctx context.Context, t *Task, err error) error {
	if IsAbort(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		abortErr := &AbortError{TaskID: t.ID(), Err: err}
		_ = t.abort(abortErr)
		r.failEdges(t, abortErr)
		return abortErr
	}
	_ = t.fail(err)
	r.failEdges(t, err)
	return err
}

func (r *Runner) failEdges(t *Task, err error) {
	for _, d := range r.graph.OutEdges(t.ID()) {
		d.fail(err)
	}
}

// completeEdges materializes every outgoing edge from the task's output:
// the named port's value, or the whole output object for a wildcard source
// port.
func (r *Runner) completeEdges(t *Task, out map[string]any) {
	for _, d := range r.graph.OutEdges(t.ID()) {
		d.complete(extractPortValue(out, d.SourcePortID))
	}
}

// materializeInputs assembles runInputData: declared defaults, then the
// explicitly supplied run input, then completed edge values (wildcard target
// merges whole objects), then live stream handles for streaming edges, then
// a resolver pass over format-tagged string inputs. Missing required inputs
// fail the task before any entry point is invoked.
func (r *Runner) materializeInputs(ctx context.Context, t *Task) (map[string]any, []ProvenanceItem, error) {
	def := t.Definition()
	inputs := make(map[string]any)

	for _, p := range def.Inputs {
		if p.Default != nil {
			inputs[p.ID] = p.Default
		}
	}

	for k, v := range t.SeedInput() {
		inputs[k] = v
	}

	var chains [][]ProvenanceItem
	for _, d := range r.graph.InEdges(t.ID()) {
		if src, ok := r.graph.GetTask(d.SourceTaskID); ok {
			chains = append(chains, src.Provenance())
		}

		// One consistent view: the edge may complete concurrently between a
		// status check and a stream read.
		status, value, stream, edgeErr := d.inputState()

		switch status {
		case DataflowCompleted:
			if IsWildcard(d.TargetPortID) {
				m, ok := value.(map[string]any)
				if !ok {
					return nil, nil, &InputResolutionError{
						TaskID: t.ID(),
						Port:   d.TargetPortID,
						Err:    fmt.Errorf("wildcard merge requires an object, got %T", value),
					}
				}
				for mk, mv := range m {
					inputs[mk] = mv
				}
			} else {
				inputs[d.TargetPortID] = value
			}

		case DataflowStreaming:
			if IsWildcard(d.TargetPortID) {
				return nil, nil, &InputResolutionError{
					TaskID: t.ID(),
					Port:   d.TargetPortID,
					Err:    fmt.Errorf("wildcard target cannot consume a stream"),
				}
			}
			inputs[d.TargetPortID] = stream

		case DataflowFailed:
			return nil, nil, &InputResolutionError{TaskID: t.ID(), Port: d.TargetPortID, Err: edgeErr}

		default:
			return nil, nil, &InputResolutionError{
				TaskID: t.ID(),
				Port:   d.TargetPortID,
				Err:    fmt.Errorf("dataflow %s not ready", d.ID()),
			}
		}
	}

	for _, p := range def.Inputs {
		if p.Format == "" {
			continue
		}
		v, ok := inputs[p.ID]
		if !ok {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if r.resolvers == nil {
			return nil, nil, &InputResolutionError{TaskID: t.ID(), Port: p.ID, Err: ErrNoResolver}
		}
		resolved, err := r.resolvers.Resolve(ctx, p.Format, s)
		if err != nil {
			return nil, nil, &InputResolutionError{TaskID: t.ID(), Port: p.ID, Err: err}
		}
		inputs[p.ID] = resolved
	}

	for _, p := range def.Inputs {
		if !p.Required {
			continue
		}
		if v, ok := inputs[p.ID]; !ok || v == nil {
			return nil, nil, &InputResolutionError{
				TaskID: t.ID(),
				Port:   p.ID,
				Err:    fmt.Errorf("missing required input"),
			}
		}
	}

	return inputs, mergeProvenance(chains...), nil
}

// hasStreamInput reports whether any materialized input is a live stream
// handle, which cannot participate in cache canonicalization.
func hasStreamInput(inputs map[string]any) bool {
	for _, v := range inputs {
		if _, ok := v.(*StreamReader); ok {
			return true
		}
	}
	return false
}

func (r *Runner) collect(runID string) *RunResult {
	result := &RunResult{
		RunID:  runID,
		Tasks:  make(map[string]TaskResult),
		Leaves: make(map[string]TaskResult),
	}

	for _, t := range r.graph.Tasks() {
		tr := TaskResult{
			TaskID: t.ID(),
			Status: t.Status(),
			Output: t.OutputData(),
			Err:    t.Err(),
		}
		result.Tasks[t.ID()] = tr
	}

	for _, t := range r.graph.LeafTasks() {
		result.Leaves[t.ID()] = result.Tasks[t.ID()]
	}

	return result
}
