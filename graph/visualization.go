package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Exporter renders a task graph in diagram formats.
type Exporter struct {
	graph *Graph
}

// NewExporter creates a new graph exporter for the given graph.
func NewExporter(g *Graph) *Exporter {
	return &Exporter{graph: g}
}

// MermaidOptions defines configuration for Mermaid diagram generation
type MermaidOptions struct {
	// Direction of the flowchart (e.g., "TD", "LR")
	Direction string

	// WithStatus annotates every node with the task's current status.
	WithStatus bool
}

// DrawMermaid generates a Mermaid diagram representation of the graph
func (ge *Exporter) DrawMermaid() string {
	return ge.DrawMermaidWithOptions(MermaidOptions{Direction: "TD"})
}

// DrawMermaidWithOptions generates a Mermaid diagram with custom options
func (ge *Exporter) DrawMermaidWithOptions(opts MermaidOptions) string {
	var sb strings.Builder

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	sb.WriteString(fmt.Sprintf("flowchart %s\n", direction))

	for _, t := range ge.graph.Tasks() {
		label := fmt.Sprintf("%s<br/>%s", t.ID(), t.Type())
		if opts.WithStatus {
			label = fmt.Sprintf("%s<br/>%s", label, t.Status())
		}
		sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", mermaidID(t.ID()), label))
	}

	for _, d := range ge.graph.Dataflows() {
		sb.WriteString(fmt.Sprintf("    %s -->|%s→%s| %s\n",
			mermaidID(d.SourceTaskID), d.SourcePortID, d.TargetPortID, mermaidID(d.TargetTaskID)))
	}

	// Color terminal states for quick run inspection
	if opts.WithStatus {
		var completed, failed []string
		for _, t := range ge.graph.Tasks() {
			switch t.Status() {
			case TaskCompleted:
				completed = append(completed, mermaidID(t.ID()))
			case TaskFailed, TaskAborted:
				failed = append(failed, mermaidID(t.ID()))
			}
		}
		sort.Strings(completed)
		sort.Strings(failed)
		for _, id := range completed {
			sb.WriteString(fmt.Sprintf("    style %s fill:#90EE90\n", id))
		}
		for _, id := range failed {
			sb.WriteString(fmt.Sprintf("    style %s fill:#FFB6C1\n", id))
		}
	}

	return sb.String()
}

// DrawDOT generates a DOT (Graphviz) representation of the graph
func (ge *Exporter) DrawDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")

	for _, t := range ge.graph.Tasks() {
		sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\"];\n", t.ID(), t.ID(), t.Type()))
	}

	for _, d := range ge.graph.Dataflows() {
		sb.WriteString(fmt.Sprintf("    %q -> %q [label=\"%s→%s\"];\n",
			d.SourceTaskID, d.TargetTaskID, d.SourcePortID, d.TargetPortID))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// mermaidID sanitizes a task id for use as a Mermaid node identifier.
func mermaidID(id string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(id)
}
