package graph

import (
	"fmt"
	"sync"
)

// Graph is an acyclic container of tasks and the dataflows connecting them.
// Tasks are created when added and share the graph's lifetime, as do edges.
type Graph struct {
	mu        sync.RWMutex
	tasks     map[string]*Task
	order     []string
	dataflows []*Dataflow

	listeners *listenerRegistry
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:     make(map[string]*Task),
		listeners: newListenerRegistry(),
	}
}

// AddTask adds a task to the graph. Task ids must be unique.
func (g *Graph) AddTask(t *Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID())
	}

	t.graph = g
	g.tasks[t.ID()] = t
	g.order = append(g.order, t.ID())
	return nil
}

// AddDataflow adds an edge to the graph. Both endpoints must already be
// present, and a non-wildcard target port may have at most one inbound edge.
func (g *Graph) AddDataflow(d *Dataflow) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.tasks[d.SourceTaskID]; !ok {
		return fmt.Errorf("%w: source %s", ErrTaskNotFound, d.SourceTaskID)
	}
	if _, ok := g.tasks[d.TargetTaskID]; !ok {
		return fmt.Errorf("%w: target %s", ErrTaskNotFound, d.TargetTaskID)
	}

	if !IsWildcard(d.TargetPortID) {
		for _, existing := range g.dataflows {
			if existing.TargetTaskID == d.TargetTaskID && existing.TargetPortID == d.TargetPortID {
				return fmt.Errorf("%w: %s.%s", ErrDuplicateTargetPort, d.TargetTaskID, d.TargetPortID)
			}
		}
	}

	g.dataflows = append(g.dataflows, d)
	return nil
}

// Connect is a convenience for building and adding a dataflow.
func (g *Graph) Connect(sourceTaskID, sourcePortID, targetTaskID, targetPortID string) (*Dataflow, error) {
	d := NewDataflow(sourceTaskID, sourcePortID, targetTaskID, targetPortID)
	if err := g.AddDataflow(d); err != nil {
		return nil, err
	}
	return d, nil
}

// GetTask returns the task with the given id.
func (g *Graph) GetTask(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns the graph's tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Dataflows returns the graph's edges.
func (g *Graph) Dataflows() []*Dataflow {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Dataflow, len(g.dataflows))
	copy(out, g.dataflows)
	return out
}

// InEdges returns the inbound dataflows of a task.
func (g *Graph) InEdges(taskID string) []*Dataflow {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Dataflow
	for _, d := range g.dataflows {
		if d.TargetTaskID == taskID {
			out = append(out, d)
		}
	}
	return out
}

// OutEdges returns the outbound dataflows of a task.
func (g *Graph) OutEdges(taskID string) []*Dataflow {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Dataflow
	for _, d := range g.dataflows {
		if d.SourceTaskID == taskID {
			out = append(out, d)
		}
	}
	return out
}

// OutEdgesByPort groups a task's outbound dataflows by source port.
func (g *Graph) OutEdgesByPort(taskID string) map[string][]*Dataflow {
	out := make(map[string][]*Dataflow)
	for _, d := range g.OutEdges(taskID) {
		out[d.SourcePortID] = append(out[d.SourcePortID], d)
	}
	return out
}

// SourceTasks returns the tasks with no inbound edges, in insertion order.
func (g *Graph) SourceTasks() []*Task {
	var out []*Task
	for _, t := range g.Tasks() {
		if len(g.InEdges(t.ID())) == 0 {
			out = append(out, t)
		}
	}
	return out
}

// LeafTasks returns the tasks with no outbound edges, in insertion order.
func (g *Graph) LeafTasks() []*Task {
	var out []*Task
	for _, t := range g.Tasks() {
		if len(g.OutEdges(t.ID())) == 0 {
			out = append(out, t)
		}
	}
	return out
}

// TopologicalLayers returns the tasks grouped into dependency layers: every
// task appears in the first layer after all of its upstream tasks. Returns
// ErrCycle when the graph is cyclic.
func (g *Graph) TopologicalLayers() ([][]*Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.tasks))
	successors := make(map[string][]string, len(g.tasks))
	for _, id := range g.order {
		inDegree[id] = 0
	}
	for _, d := range g.dataflows {
		inDegree[d.TargetTaskID]++
		successors[d.SourceTaskID] = append(successors[d.SourceTaskID], d.TargetTaskID)
	}

	var layers [][]*Task
	var current []string
	for _, id := range g.order {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	placed := 0
	for len(current) > 0 {
		layer := make([]*Task, 0, len(current))
		var next []string
		for _, id := range current {
			layer = append(layer, g.tasks[id])
			placed++
			for _, succ := range successors[id] {
				inDegree[succ]--
				if inDegree[succ] == 0 {
					next = append(next, succ)
				}
			}
		}
		layers = append(layers, layer)
		current = next
	}

	if placed != len(g.tasks) {
		return nil, ErrCycle
	}
	return layers, nil
}

// Validate checks acyclicity and port wiring. Duplicate non-wildcard target
// ports are already rejected at AddDataflow time; Validate additionally
// rejects wildcard fan-in whose sources declare colliding output ports.
func (g *Graph) Validate() error {
	if _, err := g.TopologicalLayers(); err != nil {
		return err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	wildcardSources := make(map[string][]*Task)
	for _, d := range g.dataflows {
		if IsWildcard(d.TargetPortID) {
			wildcardSources[d.TargetTaskID] = append(wildcardSources[d.TargetTaskID], g.tasks[d.SourceTaskID])
		}
	}

	for targetID, sources := range wildcardSources {
		if len(sources) < 2 {
			continue
		}
		seen := make(map[string]string)
		for _, src := range sources {
			for _, p := range src.Definition().Outputs {
				if other, dup := seen[p.ID]; dup && other != src.ID() {
					return fmt.Errorf("%w: port %s into %s from %s and %s",
						ErrWildcardFanIn, p.ID, targetID, other, src.ID())
				}
				seen[p.ID] = src.ID()
			}
		}
	}

	return nil
}

// Reset returns every task and edge to its pristine pending state.
func (g *Graph) Reset() error {
	for _, t := range g.Tasks() {
		if err := t.Reset(); err != nil {
			return fmt.Errorf("reset task %s: %w", t.ID(), err)
		}
	}
	for _, d := range g.Dataflows() {
		d.Reset()
	}
	return nil
}
