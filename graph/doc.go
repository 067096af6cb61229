// Package graph implements the task-graph execution core of the workflow
// engine: typed tasks connected by typed dataflows, executed by a scheduler
// that supports batch, streaming and reactive disciplines.
//
// # Building a graph
//
//	def := &graph.TaskDefinition{
//		Type:    "uppercase",
//		Inputs:  []graph.Port{{ID: "text", Required: true}},
//		Outputs: []graph.Port{{ID: "text"}},
//		Execute: func(ctx context.Context, rc *graph.RunContext, in map[string]any) (map[string]any, error) {
//			return map[string]any{"text": strings.ToUpper(in["text"].(string))}, nil
//		},
//	}
//
//	g := graph.NewGraph()
//	g.AddTask(graph.NewTask(def, "up", nil))
//
// Dataflows connect a source task's output port to a target task's input
// port; the wildcard port "*" means whole-output on the source side and
// merge-into-input on the target side.
//
// # Running
//
//	runner := graph.NewRunner(g)
//	result, err := runner.Run(ctx)
//
// The runner launches every task whose inputs are ready, bounded by the
// configured concurrency. Streamable tasks may launch while their inputs are
// still streaming; everything else waits for completed edges. Cancelling the
// context aborts the run cooperatively.
//
// # Streaming
//
// A streaming producer yields StreamEvent values (text-delta, snapshot,
// finish, error) through a StreamWriter. The runner tees the stream across
// the outgoing edges with backpressure and, when a non-streaming consumer is
// attached, wraps the stream once so the terminal finish carries the fully
// accumulated value for every stream port.
//
// # Caching
//
// Tasks marked Cacheable are served from an output cache keyed by task type
// and canonicalized input. A hit completes the task directly and synthesizes
// a single finish event for streaming observers. See the cache package for
// the available backends.
package graph
