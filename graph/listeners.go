package graph

import "sync"

// StatusListener observes task status transitions.
type StatusListener func(taskID string, status TaskStatus)

// StreamStartListener observes a task entering STREAMING.
type StreamStartListener func(taskID string)

// StreamChunkListener observes every stream event a task produces, including
// the synthesized finish of a cache hit.
type StreamChunkListener func(taskID string, event StreamEvent)

// StreamEndListener observes the end of a task's stream together with the
// final output object.
type StreamEndListener func(taskID string, output map[string]any)

// ProgressListener observes progress reports from running task bodies.
type ProgressListener func(taskID string, pct float64, msg string)

// listenerRegistry is the graph-level subscription surface. External
// observers subscribe here instead of coupling to individual tasks.
type listenerRegistry struct {
	mu          sync.RWMutex
	nextID      int
	status      map[int]StatusListener
	streamStart map[int]StreamStartListener
	streamChunk map[int]StreamChunkListener
	streamEnd   map[int]StreamEndListener
	progress    map[int]ProgressListener
}

func newListenerRegistry() *listenerRegistry {
	return &listenerRegistry{
		status:      make(map[int]StatusListener),
		streamStart: make(map[int]StreamStartListener),
		streamChunk: make(map[int]StreamChunkListener),
		streamEnd:   make(map[int]StreamEndListener),
		progress:    make(map[int]ProgressListener),
	}
}

// OnTaskStatus registers a status listener and returns its unsubscribe
// function.
func (g *Graph) OnTaskStatus(fn StatusListener) func() {
	g.listeners.mu.Lock()
	defer g.listeners.mu.Unlock()
	id := g.listeners.nextID
	g.listeners.nextID++
	g.listeners.status[id] = fn
	return func() {
		g.listeners.mu.Lock()
		defer g.listeners.mu.Unlock()
		delete(g.listeners.status, id)
	}
}

// OnTaskStreamStart registers a stream-start listener and returns its
// unsubscribe function.
func (g *Graph) OnTaskStreamStart(fn StreamStartListener) func() {
	g.listeners.mu.Lock()
	defer g.listeners.mu.Unlock()
	id := g.listeners.nextID
	g.listeners.nextID++
	g.listeners.streamStart[id] = fn
	return func() {
		g.listeners.mu.Lock()
		defer g.listeners.mu.Unlock()
		delete(g.listeners.streamStart, id)
	}
}

// OnTaskStreamChunk registers a stream-chunk listener and returns its
// unsubscribe function.
func (g *Graph) OnTaskStreamChunk(fn StreamChunkListener) func() {
	g.listeners.mu.Lock()
	defer g.listeners.mu.Unlock()
	id := g.listeners.nextID
	g.listeners.nextID++
	g.listeners.streamChunk[id] = fn
	return func() {
		g.listeners.mu.Lock()
		defer g.listeners.mu.Unlock()
		delete(g.listeners.streamChunk, id)
	}
}

// OnTaskStreamEnd registers a stream-end listener and returns its
// unsubscribe function.
func (g *Graph) OnTaskStreamEnd(fn StreamEndListener) func() {
	g.listeners.mu.Lock()
	defer g.listeners.mu.Unlock()
	id := g.listeners.nextID
	g.listeners.nextID++
	g.listeners.streamEnd[id] = fn
	return func() {
		g.listeners.mu.Lock()
		defer g.listeners.mu.Unlock()
		delete(g.listeners.streamEnd, id)
	}
}

// OnTaskProgress registers a progress listener and returns its unsubscribe
// function.
func (g *Graph) OnTaskProgress(fn ProgressListener) func() {
	g.listeners.mu.Lock()
	defer g.listeners.mu.Unlock()
	id := g.listeners.nextID
	g.listeners.nextID++
	g.listeners.progress[id] = fn
	return func() {
		g.listeners.mu.Lock()
		defer g.listeners.mu.Unlock()
		delete(g.listeners.progress, id)
	}
}

func (g *Graph) notifyStatus(taskID string, status TaskStatus) {
	g.listeners.mu.RLock()
	fns := make([]StatusListener, 0, len(g.listeners.status))
	for _, fn := range g.listeners.status {
		fns = append(fns, fn)
	}
	g.listeners.mu.RUnlock()

	for _, fn := range fns {
		fn(taskID, status)
	}
}

func (g *Graph) notifyStreamStart(taskID string) {
	g.listeners.mu.RLock()
	fns := make([]StreamStartListener, 0, len(g.listeners.streamStart))
	for _, fn := range g.listeners.streamStart {
		fns = append(fns, fn)
	}
	g.listeners.mu.RUnlock()

	for _, fn := range fns {
		fn(taskID)
	}
}

func (g *Graph) notifyStreamChunk(taskID string, ev StreamEvent) {
	g.listeners.mu.RLock()
	fns := make([]StreamChunkListener, 0, len(g.listeners.streamChunk))
	for _, fn := range g.listeners.streamChunk {
		fns = append(fns, fn)
	}
	g.listeners.mu.RUnlock()

	for _, fn := range fns {
		fn(taskID, ev)
	}
}

func (g *Graph) notifyStreamEnd(taskID string, output map[string]any) {
	g.listeners.mu.RLock()
	fns := make([]StreamEndListener, 0, len(g.listeners.streamEnd))
	for _, fn := range g.listeners.streamEnd {
		fns = append(fns, fn)
	}
	g.listeners.mu.RUnlock()

	for _, fn := range fns {
		fn(taskID, output)
	}
}

func (g *Graph) notifyProgress(taskID string, pct float64, msg string) {
	g.listeners.mu.RLock()
	fns := make([]ProgressListener, 0, len(g.listeners.progress))
	for _, fn := range g.listeners.progress {
		fns = append(fns, fn)
	}
	g.listeners.mu.RUnlock()

	for _, fn := range fns {
		fn(taskID, pct, msg)
	}
}
