package graph

import (
	"encoding/json"
	"fmt"
)

// TaskDescriptor is the JSON shape of a task in a graph descriptor.
type TaskDescriptor struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
	Input  map[string]any `json:"input,omitempty"`
}

// DataflowDescriptor is the JSON shape of an edge in a graph descriptor.
type DataflowDescriptor struct {
	SourceTaskID     string `json:"sourceTaskId"`
	SourceTaskPortID string `json:"sourceTaskPortId"`
	TargetTaskID     string `json:"targetTaskId"`
	TargetTaskPortID string `json:"targetTaskPortId"`
}

// GraphDescriptor is the serialized form of a graph. Serialize, deserialize
// and execute must yield equivalent results modulo external side effects.
type GraphDescriptor struct {
	Tasks     []TaskDescriptor     `json:"tasks"`
	Dataflows []DataflowDescriptor `json:"dataflows"`
}

// Descriptor builds the descriptor of a graph.
func (g *Graph) Descriptor() *GraphDescriptor {
	desc := &GraphDescriptor{}

	for _, t := range g.Tasks() {
		desc.Tasks = append(desc.Tasks, TaskDescriptor{
			ID:     t.ID(),
			Type:   t.Type(),
			Config: t.Config(),
			Input:  t.SeedInput(),
		})
	}

	for _, d := range g.Dataflows() {
		desc.Dataflows = append(desc.Dataflows, DataflowDescriptor{
			SourceTaskID:     d.SourceTaskID,
			SourceTaskPortID: d.SourcePortID,
			TargetTaskID:     d.TargetTaskID,
			TargetTaskPortID: d.TargetPortID,
		})
	}

	return desc
}

// ToJSON serializes the graph descriptor.
func (g *Graph) ToJSON() ([]byte, error) {
	return json.Marshal(g.Descriptor())
}

// FromDescriptor reconstructs a graph from a descriptor, building each task
// through the registry.
func FromDescriptor(desc *GraphDescriptor, registry *TaskRegistry) (*Graph, error) {
	g := NewGraph()

	for _, td := range desc.Tasks {
		t, err := registry.New(td.Type, td.ID, td.Config)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", td.ID, err)
		}
		if td.Input != nil {
			t.SetSeedInput(td.Input)
		}
		if err := g.AddTask(t); err != nil {
			return nil, err
		}
	}

	for _, dd := range desc.Dataflows {
		d := NewDataflow(dd.SourceTaskID, dd.SourceTaskPortID, dd.TargetTaskID, dd.TargetTaskPortID)
		if err := g.AddDataflow(d); err != nil {
			return nil, err
		}
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// FromJSON deserializes a graph descriptor and reconstructs the graph.
func FromJSON(data []byte, registry *TaskRegistry) (*Graph, error) {
	var desc GraphDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph descriptor: %w", err)
	}
	return FromDescriptor(&desc, registry)
}
