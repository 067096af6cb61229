package graph

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task within a run.
type TaskStatus string

const (
	// TaskPending means the task has not been launched in this run.
	TaskPending TaskStatus = "PENDING"

	// TaskProcessing means the batch or reactive entry point is executing.
	TaskProcessing TaskStatus = "PROCESSING"

	// TaskStreaming means the streaming entry point is producing events.
	TaskStreaming TaskStatus = "STREAMING"

	// TaskCompleted is the terminal success state.
	TaskCompleted TaskStatus = "COMPLETED"

	// TaskFailed is the terminal failure state.
	TaskFailed TaskStatus = "FAILED"

	// TaskAborted is the terminal cancellation state, distinct from failure.
	TaskAborted TaskStatus = "ABORTED"
)

// Terminal reports whether the status ends a run.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskAborted
}

// ExecuteFunc is the batch entry point of a task.
type ExecuteFunc func(ctx context.Context, rc *RunContext, input map[string]any) (map[string]any, error)

// ExecuteStreamFunc is the streaming entry point. The returned reader yields
// the producer's events in order and ends with a terminal event.
type ExecuteStreamFunc func(ctx context.Context, rc *RunContext, input map[string]any) (*StreamReader, error)

// ExecuteReactiveFunc is the reactive entry point. It receives the previous
// output and returns the new output, or ok=false to signal "no change".
type ExecuteReactiveFunc func(ctx context.Context, rc *RunContext, input, previous map[string]any) (output map[string]any, ok bool, err error)

// TaskDefinition declares a task type: its ports, capabilities and entry
// points. Task kind is encoded by the three capability booleans plus the
// entry points the scheduler selects between; there is no inheritance.
type TaskDefinition struct {
	// Type is the stable type identifier used for caching, registry lookup
	// and serialization.
	Type string

	// Description describes what the task does.
	Description string

	// Inputs is the declared input port schema.
	Inputs []Port

	// Outputs is the declared output port schema.
	Outputs []Port

	// Cacheable allows the scheduler to serve this task from the output cache.
	Cacheable bool

	// Streamable allows the scheduler to pick ExecuteStream.
	Streamable bool

	// Reactive allows the reactive runner to pick ExecuteReactive.
	Reactive bool

	// Execute is the batch entry point.
	Execute ExecuteFunc

	// ExecuteStream is the streaming entry point.
	ExecuteStream ExecuteStreamFunc

	// ExecuteReactive is the reactive entry point.
	ExecuteReactive ExecuteReactiveFunc
}

// InputPort returns the declared input port with the given id.
func (d *TaskDefinition) InputPort(id string) (Port, bool) {
	return findPort(d.Inputs, id)
}

// OutputPort returns the declared output port with the given id.
func (d *TaskDefinition) OutputPort(id string) (Port, bool) {
	return findPort(d.Outputs, id)
}

// OutputStreamModes maps every output port to its stream mode.
func (d *TaskDefinition) OutputStreamModes() map[string]StreamMode {
	modes := make(map[string]StreamMode, len(d.Outputs))
	for _, p := range d.Outputs {
		modes[p.ID] = p.Stream
	}
	return modes
}

// AcceptsStream reports whether the named input port consumes a live stream
// of the given mode.
func (d *TaskDefinition) AcceptsStream(portID string, mode StreamMode) bool {
	if !d.Streamable {
		return false
	}
	if IsWildcard(portID) {
		return false
	}
	p, ok := findPort(d.Inputs, portID)
	if !ok {
		return false
	}
	return p.Stream == mode && mode != StreamModeNone
}

// Task is a node of the graph: a typed unit of computation with its own
// lifecycle, working buffers and configuration. All mutation after
// construction happens through the scheduler and Reset.
type Task struct {
	id    string
	def   *TaskDefinition
	graph *Graph

	mu            sync.RWMutex
	config        map[string]any
	seedInput     map[string]any
	status        TaskStatus
	err           error
	runInputData  map[string]any
	runOutputData map[string]any
	provenance    []ProvenanceItem
}

// NewTask creates a task instance for a definition. An empty id is replaced
// with a generated UUID.
func NewTask(def *TaskDefinition, id string, config map[string]any) *Task {
	if id == "" {
		id = uuid.NewString()
	}
	return &Task{
		id:     id,
		def:    def,
		config: config,
		status: TaskPending,
	}
}

// ID returns the stable instance identifier.
func (t *Task) ID() string { return t.id }

// Type returns the stable type identifier.
func (t *Task) Type() string { return t.def.Type }

// Definition returns the task's definition.
func (t *Task) Definition() *TaskDefinition { return t.def }

// Config returns the task's configuration object.
func (t *Task) Config() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config
}

// SetSeedInput sets the explicitly supplied run-input object, overlaid on
// defaults during input materialization.
func (t *Task) SetSeedInput(input map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seedInput = input
}

// SeedInput returns the explicitly supplied run-input object.
func (t *Task) SeedInput() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seedInput
}

// Status returns the task's current status.
func (t *Task) Status() TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Err returns the error attached by a failed or aborted run.
func (t *Task) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// InputData returns a copy of the materialized inputs of the current run.
func (t *Task) InputData() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyMap(t.runInputData)
}

// OutputData returns a copy of the accumulated outputs of the current run.
func (t *Task) OutputData() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyMap(t.runOutputData)
}

// Provenance returns a copy of the run's provenance chain.
func (t *Task) Provenance() []ProvenanceItem {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProvenanceItem, len(t.provenance))
	copy(out, t.provenance)
	return out
}

// AppendProvenance appends the task's own provenance record.
func (t *Task) AppendProvenance(item ProvenanceItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.provenance = append(t.provenance, item)
}

func (t *Task) setProvenance(chain []ProvenanceItem) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.provenance = chain
}

func (t *Task) setInput(input map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runInputData = input
}

func (t *Task) setOutput(output map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runOutputData = output
}

// transition moves the task along an edge of the state machine and notifies
// graph listeners. Transitions are monotone within a run: once terminal, only
// Reset returns the task to PENDING.
func (t *Task) transition(to TaskStatus) error {
	t.mu.Lock()
	from := t.status
	if !validTransition(from, to) {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	t.status = to
	g := t.graph
	t.mu.Unlock()

	if g != nil {
		g.notifyStatus(t.id, to)
	}
	return nil
}

func validTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		// PENDING -> COMPLETED is the cache-hit shortcut.
		return to == TaskProcessing || to == TaskStreaming || to == TaskCompleted || to == TaskFailed || to == TaskAborted
	case TaskProcessing, TaskStreaming:
		return to == TaskCompleted || to == TaskFailed || to == TaskAborted
	default:
		return false
	}
}

// complete records the run output and moves the task to COMPLETED.
func (t *Task) complete(output map[string]any) error {
	t.setOutput(output)
	return t.transition(TaskCompleted)
}

// fail attaches the error and moves the task to FAILED.
func (t *Task) fail(err error) error {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	return t.transition(TaskFailed)
}

// abort attaches the cancellation and moves the task to ABORTED.
func (t *Task) abort(err error) error {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	return t.transition(TaskAborted)
}

// Reset returns a terminal (or still pending) task to PENDING, clearing the
// working buffers, the attached error and the provenance chain.
func (t *Task) Reset() error {
	t.mu.Lock()
	if t.status != TaskPending && !t.status.Terminal() {
		t.mu.Unlock()
		return ErrInvalidTransition
	}
	changed := t.status != TaskPending
	t.status = TaskPending
	t.err = nil
	t.runInputData = nil
	t.runOutputData = nil
	t.provenance = nil
	g := t.graph
	t.mu.Unlock()

	if changed && g != nil {
		g.notifyStatus(t.id, TaskPending)
	}
	return nil
}

// RunContext is the execution context handed to every entry point: the run
// identity, a monotone progress callback and a read-only provenance view.
// Cancellation travels through the context.Context argument.
type RunContext struct {
	// RunID identifies the graph run.
	RunID string

	// TaskID identifies the running task.
	TaskID string

	mu         sync.Mutex
	pct        float64
	progressFn func(taskID string, pct float64, msg string)
	provenance []ProvenanceItem
}

// Progress reports task progress. The percentage is clamped to [0,100] and
// never decreases within a run.
func (rc *RunContext) Progress(pct float64, msg string) {
	rc.mu.Lock()
	if pct > 100 {
		pct = 100
	}
	if pct < rc.pct {
		pct = rc.pct
	}
	rc.pct = pct
	fn := rc.progressFn
	rc.mu.Unlock()

	if fn != nil {
		fn(rc.TaskID, pct, msg)
	}
}

// Provenance returns a read-only copy of the chain that produced this run's
// inputs.
func (rc *RunContext) Provenance() []ProvenanceItem {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]ProvenanceItem, len(rc.provenance))
	copy(out, rc.provenance)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
