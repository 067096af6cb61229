package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/taskgraphgo/cache/memory"
)

// streamSink builds a streamable leaf consumer that drains a live text
// stream into its output. It records observed events into record (guarded by
// mu) and closes ready once it starts consuming.
func streamSink(typ string, mu *sync.Mutex, record *[]StreamEvent, ready chan struct{}) *TaskDefinition {
	var once sync.Once
	return &TaskDefinition{
		Type:       typ,
		Streamable: true,
		Inputs:     []Port{{ID: "text", Stream: StreamModeAppend}},
		Outputs:    []Port{{ID: "text"}},
		Execute: func(ctx context.Context, rc *RunContext, in map[string]any) (map[string]any, error) {
			if ready != nil {
				once.Do(func() { close(ready) })
			}

			switch v := in["text"].(type) {
			case *StreamReader:
				var sb strings.Builder
				for {
					ev, err := v.Recv(ctx)
					if errors.Is(err, ErrStreamClosed) {
						break
					}
					if err != nil {
						return nil, err
					}
					if record != nil {
						mu.Lock()
						*record = append(*record, ev)
						mu.Unlock()
					}
					if ev.Type == EventTextDelta {
						sb.WriteString(ev.TextDelta)
					}
					if ev.Terminal() {
						break
					}
				}
				return map[string]any{"text": sb.String()}, nil
			case string:
				return map[string]any{"text": v}, nil
			default:
				return nil, fmt.Errorf("unexpected input type %T", v)
			}
		},
	}
}

func TestRunner_BatchPipeline(t *testing.T) {
	g := NewGraph()

	upper := &TaskDefinition{
		Type:    "upper",
		Inputs:  []Port{{ID: "text", Required: true}},
		Outputs: []Port{{ID: "text"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"text": strings.ToUpper(in["text"].(string))}, nil
		},
	}
	exclaim := &TaskDefinition{
		Type:    "exclaim",
		Inputs:  []Port{{ID: "text", Required: true}},
		Outputs: []Port{{ID: "text"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"text": in["text"].(string) + "!"}, nil
		},
	}

	up := NewTask(upper, "up", nil)
	up.SetSeedInput(map[string]any{"text": "hello"})
	require.NoError(t, g.AddTask(up))
	require.NoError(t, g.AddTask(NewTask(exclaim, "bang", nil)))
	mustConnect(t, g, "up", "text", "bang", "text")

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TaskCompleted, result.Tasks["up"].Status)
	assert.Equal(t, TaskCompleted, result.Tasks["bang"].Status)
	assert.Equal(t, "HELLO!", result.Leaves["bang"].Output["text"])
}

// Linear append streaming: the streaming downstream observes both deltas
// then finish; the non-streaming downstream observes the accumulated final
// value; the producer executes once.
func TestRunner_LinearAppendStreaming(t *testing.T) {
	g := NewGraph()

	var producerRuns atomic.Int32
	consumerReady := make(chan struct{})

	producer := &TaskDefinition{
		Type:       "gen",
		Streamable: true,
		Outputs:    []Port{{ID: "text", Stream: StreamModeAppend}},
		ExecuteStream: func(ctx context.Context, _ *RunContext, _ map[string]any) (*StreamReader, error) {
			producerRuns.Add(1)
			w, r := NewStream(8)
			go func() {
				_ = w.Delta(ctx, "text", "hello")
				_ = w.Delta(ctx, "text", " world")
				// Hold the terminal event until the streaming consumer is
				// attached, so the test observes a live stream.
				select {
				case <-consumerReady:
				case <-ctx.Done():
				}
				_ = w.Finish(ctx, nil)
			}()
			return r, nil
		},
	}

	var mu sync.Mutex
	var observed []StreamEvent
	sink := streamSink("stream-sink", &mu, &observed, consumerReady)

	var plainMu sync.Mutex
	var plainGot any
	plain := &TaskDefinition{
		Type:   "plain-sink",
		Inputs: []Port{{ID: "text"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			plainMu.Lock()
			plainGot = in["text"]
			plainMu.Unlock()
			return map[string]any{"text": in["text"]}, nil
		},
	}

	require.NoError(t, g.AddTask(NewTask(producer, "gen", nil)))
	require.NoError(t, g.AddTask(NewTask(sink, "s1", nil)))
	require.NoError(t, g.AddTask(NewTask(plain, "p1", nil)))
	mustConnect(t, g, "gen", "text", "s1", "text")
	mustConnect(t, g, "gen", "text", "p1", "text")

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), producerRuns.Load())
	assert.Equal(t, TaskCompleted, result.Tasks["gen"].Status)
	assert.Equal(t, TaskCompleted, result.Tasks["s1"].Status)
	assert.Equal(t, TaskCompleted, result.Tasks["p1"].Status)

	require.Len(t, observed, 3)
	assert.Equal(t, EventTextDelta, observed[0].Type)
	assert.Equal(t, "hello", observed[0].TextDelta)
	assert.Equal(t, EventTextDelta, observed[1].Type)
	assert.Equal(t, " world", observed[1].TextDelta)
	assert.Equal(t, EventFinish, observed[2].Type)

	assert.Equal(t, "hello world", result.Tasks["s1"].Output["text"])
	assert.Equal(t, "hello world", plainGot)
}

// Linear replace streaming: the non-streaming downstream receives the final
// snapshot value.
func TestRunner_LinearReplaceStreaming(t *testing.T) {
	g := NewGraph()

	producer := &TaskDefinition{
		Type:       "draft",
		Streamable: true,
		Outputs:    []Port{{ID: "text", Stream: StreamModeReplace}},
		ExecuteStream: func(ctx context.Context, _ *RunContext, _ map[string]any) (*StreamReader, error) {
			w, r := NewStream(8)
			go func() {
				_ = w.Snapshot(ctx, map[string]any{"text": "H"})
				_ = w.Snapshot(ctx, map[string]any{"text": "He"})
				_ = w.Snapshot(ctx, map[string]any{"text": "Hello"})
				_ = w.Finish(ctx, map[string]any{"text": "Hello"})
			}()
			return r, nil
		},
	}
	plain := &TaskDefinition{
		Type:    "plain-sink",
		Inputs:  []Port{{ID: "text"}},
		Outputs: []Port{{ID: "text"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"text": in["text"]}, nil
		},
	}

	require.NoError(t, g.AddTask(NewTask(producer, "draft", nil)))
	require.NoError(t, g.AddTask(NewTask(plain, "sink", nil)))
	mustConnect(t, g, "draft", "text", "sink", "text")

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TaskCompleted, result.Tasks["sink"].Status)
	assert.Equal(t, "Hello", result.Tasks["sink"].Output["text"])
}

// Fan-out by tee: two streaming consumers each observe every delta; the
// third, non-streaming consumer observes only the accumulated final value;
// the producer's yield loop runs once.
func TestRunner_FanOutTee(t *testing.T) {
	g := NewGraph()

	var producerRuns atomic.Int32
	readyA := make(chan struct{})
	readyB := make(chan struct{})

	producer := &TaskDefinition{
		Type:       "gen",
		Streamable: true,
		Outputs:    []Port{{ID: "text", Stream: StreamModeAppend}},
		ExecuteStream: func(ctx context.Context, _ *RunContext, _ map[string]any) (*StreamReader, error) {
			producerRuns.Add(1)
			w, r := NewStream(8)
			go func() {
				_ = w.Delta(ctx, "text", "a")
				_ = w.Delta(ctx, "text", "b")
				_ = w.Delta(ctx, "text", "c")
				for _, ready := range []chan struct{}{readyA, readyB} {
					select {
					case <-ready:
					case <-ctx.Done():
					}
				}
				_ = w.Finish(ctx, nil)
			}()
			return r, nil
		},
	}

	var muA, muB sync.Mutex
	var seenA, seenB []StreamEvent
	sinkA := streamSink("sink-a", &muA, &seenA, readyA)
	sinkB := streamSink("sink-b", &muB, &seenB, readyB)

	var plainMu sync.Mutex
	var plainGot any
	plain := &TaskDefinition{
		Type:   "plain-sink",
		Inputs: []Port{{ID: "text"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			plainMu.Lock()
			plainGot = in["text"]
			plainMu.Unlock()
			return map[string]any{"text": in["text"]}, nil
		},
	}

	require.NoError(t, g.AddTask(NewTask(producer, "gen", nil)))
	require.NoError(t, g.AddTask(NewTask(sinkA, "sa", nil)))
	require.NoError(t, g.AddTask(NewTask(sinkB, "sb", nil)))
	require.NoError(t, g.AddTask(NewTask(plain, "pl", nil)))
	mustConnect(t, g, "gen", "text", "sa", "text")
	mustConnect(t, g, "gen", "text", "sb", "text")
	mustConnect(t, g, "gen", "text", "pl", "text")

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), producerRuns.Load(), "producer yield loop runs once regardless of fan-out")

	deltasOf := func(events []StreamEvent) []string {
		var out []string
		for _, ev := range events {
			if ev.Type == EventTextDelta {
				out = append(out, ev.TextDelta)
			}
		}
		return out
	}
	assert.Equal(t, []string{"a", "b", "c"}, deltasOf(seenA))
	assert.Equal(t, []string{"a", "b", "c"}, deltasOf(seenB))
	assert.Equal(t, "abc", plainGot)

	assert.Equal(t, "abc", result.Tasks["sa"].Output["text"])
	assert.Equal(t, "abc", result.Tasks["sb"].Output["text"])
}

// Cache hit second run: the body is skipped entirely and downstream
// streaming observers see exactly one synthesized finish event.
func TestRunner_CacheHitSecondRun(t *testing.T) {
	g := NewGraph()

	var bodyRuns atomic.Int32
	def := &TaskDefinition{
		Type:       "double",
		Cacheable:  true,
		Streamable: true,
		Inputs:     []Port{{ID: "n", Required: true}},
		Outputs:    []Port{{ID: "n"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			bodyRuns.Add(1)
			return map[string]any{"n": in["n"].(int) * 2}, nil
		},
	}

	task := NewTask(def, "d1", nil)
	task.SetSeedInput(map[string]any{"n": 21})
	require.NoError(t, g.AddTask(task))

	var mu sync.Mutex
	var chunks []StreamEvent
	g.OnTaskStreamChunk(func(taskID string, ev StreamEvent) {
		mu.Lock()
		chunks = append(chunks, ev)
		mu.Unlock()
	})

	runner := NewRunner(g)
	runner.SetCache(memory.NewMemoryOutputCache())

	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, first.Tasks["d1"].Status)
	assert.Equal(t, 42, first.Tasks["d1"].Output["n"])
	assert.Equal(t, int32(1), bodyRuns.Load())
	assert.Empty(t, chunks, "a batch first run emits no stream events")

	require.NoError(t, g.Reset())

	second, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, TaskCompleted, second.Tasks["d1"].Status)

	assert.Equal(t, int32(1), bodyRuns.Load(), "second run skips the body entirely")
	assert.Equal(t, first.Tasks["d1"].Output, second.Tasks["d1"].Output)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, chunks, 1, "cache hit synthesizes exactly one stream event")
	assert.Equal(t, EventFinish, chunks[0].Type)
	assert.Equal(t, 42, chunks[0].Data["n"])
}

// Exactly-once cache population: concurrent tasks with identical type and
// canonicalized input share one body execution.
func TestRunner_SingleFlightAcrossTasks(t *testing.T) {
	g := NewGraph()

	var bodyRuns atomic.Int32
	def := &TaskDefinition{
		Type:      "slow-embed",
		Cacheable: true,
		Inputs:    []Port{{ID: "text", Required: true}},
		Outputs:   []Port{{ID: "vector"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			bodyRuns.Add(1)
			time.Sleep(20 * time.Millisecond)
			return map[string]any{"vector": "v(" + in["text"].(string) + ")"}, nil
		},
	}

	for _, id := range []string{"e1", "e2", "e3"} {
		task := NewTask(def, id, nil)
		task.SetSeedInput(map[string]any{"text": "same"})
		require.NoError(t, g.AddTask(task))
	}

	runner := NewRunner(g)
	runner.SetCache(memory.NewMemoryOutputCache())

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), bodyRuns.Load(), "identical keys collapse into one execution")
	for _, id := range []string{"e1", "e2", "e3"} {
		assert.Equal(t, TaskCompleted, result.Tasks[id].Status)
		assert.Equal(t, "v(same)", result.Tasks[id].Output["vector"])
	}
}

// Cancellation during a stream: the producer stops promptly, the producer
// task ends ABORTED and the downstream task aborts without running.
func TestRunner_CancellationDuringStream(t *testing.T) {
	g := NewGraph()

	producer := &TaskDefinition{
		Type:       "endless",
		Streamable: true,
		Outputs:    []Port{{ID: "text", Stream: StreamModeAppend}},
		ExecuteStream: func(ctx context.Context, _ *RunContext, _ map[string]any) (*StreamReader, error) {
			w, r := NewStream(4)
			go func() {
				for {
					if err := w.Delta(ctx, "text", "tick"); err != nil {
						w.Close()
						return
					}
				}
			}()
			return r, nil
		},
	}

	var sinkRuns atomic.Int32
	plain := &TaskDefinition{
		Type:   "plain-sink",
		Inputs: []Port{{ID: "text"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			sinkRuns.Add(1)
			return map[string]any{"text": in["text"]}, nil
		},
	}

	require.NoError(t, g.AddTask(NewTask(producer, "gen", nil)))
	require.NoError(t, g.AddTask(NewTask(plain, "sink", nil)))
	mustConnect(t, g, "gen", "text", "sink", "text")

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	g.OnTaskStreamChunk(func(string, StreamEvent) {
		once.Do(cancel)
	})

	result, err := NewRunner(g).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, TaskAborted, result.Tasks["gen"].Status)
	assert.Equal(t, TaskAborted, result.Tasks["sink"].Status)
	assert.Equal(t, int32(0), sinkRuns.Load(), "downstream body never ran")
	assert.True(t, IsAbort(result.Tasks["gen"].Err))
	assert.True(t, result.Aborted())
	assert.False(t, result.Failed(), "cancellation is distinct from failure")
}

// Failure propagation: downstream tasks reach FAILED without invoking their
// bodies; unrelated peer branches complete normally.
func TestRunner_FailurePropagation(t *testing.T) {
	g := NewGraph()

	ok := &TaskDefinition{
		Type:    "ok",
		Outputs: []Port{{ID: "out"}},
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			return map[string]any{"out": "fine"}, nil
		},
	}
	boom := errors.New("boom")
	failing := &TaskDefinition{
		Type:   "failing",
		Inputs: []Port{{ID: "in"}},
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			return nil, boom
		},
	}
	var downstreamRuns atomic.Int32
	downstream := &TaskDefinition{
		Type:   "downstream",
		Inputs: []Port{{ID: "in"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			downstreamRuns.Add(1)
			return map[string]any{"in": in["in"]}, nil
		},
	}

	require.NoError(t, g.AddTask(NewTask(ok, "a", nil)))
	require.NoError(t, g.AddTask(NewTask(failing, "b", nil)))
	require.NoError(t, g.AddTask(NewTask(downstream, "c", nil)))
	require.NoError(t, g.AddTask(NewTask(ok, "peer", nil)))
	mustConnect(t, g, "a", "out", "b", "in")
	mustConnect(t, g, "b", "out", "c", "in")

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TaskCompleted, result.Tasks["a"].Status)
	assert.Equal(t, TaskFailed, result.Tasks["b"].Status)
	assert.Equal(t, TaskFailed, result.Tasks["c"].Status)
	assert.Equal(t, TaskCompleted, result.Tasks["peer"].Status)
	assert.Equal(t, int32(0), downstreamRuns.Load())

	var execErr *TaskExecutionError
	require.ErrorAs(t, result.Tasks["b"].Err, &execErr)
	assert.ErrorIs(t, execErr, boom)

	var inputErr *InputResolutionError
	assert.ErrorAs(t, result.Tasks["c"].Err, &inputErr, "downstream surfaces an input resolution error")

	assert.True(t, result.Failed())
}

func TestRunner_FailFast(t *testing.T) {
	g := NewGraph()

	failing := &TaskDefinition{
		Type: "failing",
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			return nil, errors.New("boom")
		},
	}
	waiting := &TaskDefinition{
		Type: "waiting",
		Execute: func(ctx context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	require.NoError(t, g.AddTask(NewTask(failing, "bad", nil)))
	require.NoError(t, g.AddTask(NewTask(waiting, "slow", nil)))

	runner := NewRunner(g)
	cfg := DefaultRunConfig()
	cfg.FailFast = true
	runner.SetConfig(cfg)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TaskFailed, result.Tasks["bad"].Status)
	assert.Equal(t, TaskAborted, result.Tasks["slow"].Status)
}

func TestRunner_InputResolver(t *testing.T) {
	g := NewGraph()

	def := &TaskDefinition{
		Type:    "search",
		Inputs:  []Port{{ID: "dataset", Required: true, Format: "dataset"}},
		Outputs: []Port{{ID: "dataset"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"dataset": in["dataset"]}, nil
		},
	}

	task := NewTask(def, "s1", nil)
	task.SetSeedInput(map[string]any{"dataset": "corpus-v2"})
	require.NoError(t, g.AddTask(task))

	resolvers := NewResolverRegistry()
	resolvers.Register("dataset", func(_ context.Context, id, _ string, _ *ResolverRegistry) (any, error) {
		return map[string]any{"name": id, "handle": "opened"}, nil
	})

	runner := NewRunner(g)
	runner.SetResolvers(resolvers)

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, TaskCompleted, result.Tasks["s1"].Status)
	resolved, ok := result.Tasks["s1"].Output["dataset"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "corpus-v2", resolved["name"])
	assert.Equal(t, "opened", resolved["handle"])
}

func TestRunner_MissingResolverFailsBeforeLaunch(t *testing.T) {
	g := NewGraph()

	var bodyRuns atomic.Int32
	def := &TaskDefinition{
		Type:   "search",
		Inputs: []Port{{ID: "dataset", Required: true, Format: "dataset"}},
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			bodyRuns.Add(1)
			return map[string]any{}, nil
		},
	}

	task := NewTask(def, "s1", nil)
	task.SetSeedInput(map[string]any{"dataset": "corpus-v2"})
	require.NoError(t, g.AddTask(task))

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TaskFailed, result.Tasks["s1"].Status)
	assert.Equal(t, int32(0), bodyRuns.Load())

	var inputErr *InputResolutionError
	require.ErrorAs(t, result.Tasks["s1"].Err, &inputErr)
	assert.ErrorIs(t, inputErr, ErrNoResolver)
}

func TestRunner_MissingRequiredInput(t *testing.T) {
	g := NewGraph()

	var bodyRuns atomic.Int32
	def := &TaskDefinition{
		Type:   "needy",
		Inputs: []Port{{ID: "text", Required: true}},
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			bodyRuns.Add(1)
			return map[string]any{}, nil
		},
	}
	require.NoError(t, g.AddTask(NewTask(def, "n1", nil)))

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TaskFailed, result.Tasks["n1"].Status)
	assert.Equal(t, int32(0), bodyRuns.Load())
}

func TestRunner_DefaultsApply(t *testing.T) {
	g := NewGraph()

	def := &TaskDefinition{
		Type:    "greet",
		Inputs:  []Port{{ID: "name", Default: "world"}},
		Outputs: []Port{{ID: "greeting"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"greeting": "hello " + in["name"].(string)}, nil
		},
	}
	require.NoError(t, g.AddTask(NewTask(def, "g1", nil)))

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Tasks["g1"].Output["greeting"])
}

func TestRunner_WildcardWiring(t *testing.T) {
	g := NewGraph()

	producer := &TaskDefinition{
		Type:    "pair",
		Outputs: []Port{{ID: "text"}, {ID: "count"}},
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			return map[string]any{"text": "x", "count": 2}, nil
		},
	}
	wholeSink := &TaskDefinition{
		Type:    "whole-sink",
		Inputs:  []Port{{ID: "payload"}},
		Outputs: []Port{{ID: "payload"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"payload": in["payload"]}, nil
		},
	}
	mergeSink := &TaskDefinition{
		Type:    "merge-sink",
		Inputs:  []Port{{ID: "text"}, {ID: "count"}},
		Outputs: []Port{{ID: "summary"}},
		Execute: func(_ context.Context, _ *RunContext, in map[string]any) (map[string]any, error) {
			return map[string]any{"summary": fmt.Sprintf("%v/%v", in["text"], in["count"])}, nil
		},
	}

	require.NoError(t, g.AddTask(NewTask(producer, "p", nil)))
	require.NoError(t, g.AddTask(NewTask(wholeSink, "whole", nil)))
	require.NoError(t, g.AddTask(NewTask(mergeSink, "merge", nil)))
	// Whole source output lands on one named input port.
	mustConnect(t, g, "p", "*", "whole", "payload")
	// Whole source output merges into the input object.
	mustConnect(t, g, "p", "*", "merge", "*")

	result, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	payload, ok := result.Tasks["whole"].Output["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", payload["text"])
	assert.Equal(t, 2, payload["count"])

	assert.Equal(t, "x/2", result.Tasks["merge"].Output["summary"])
}

func TestRunner_ProvenancePropagation(t *testing.T) {
	g := NewGraph()

	source := &TaskDefinition{
		Type:    "load",
		Outputs: []Port{{ID: "doc"}},
		Execute: func(_ context.Context, rc *RunContext, _ map[string]any) (map[string]any, error) {
			return map[string]any{"doc": "d"}, nil
		},
	}
	var seen []ProvenanceItem
	sink := &TaskDefinition{
		Type:   "use",
		Inputs: []Port{{ID: "doc"}},
		Execute: func(_ context.Context, rc *RunContext, in map[string]any) (map[string]any, error) {
			seen = rc.Provenance()
			return map[string]any{"doc": in["doc"]}, nil
		},
	}

	loader := NewTask(source, "l1", nil)
	require.NoError(t, g.AddTask(loader))
	require.NoError(t, g.AddTask(NewTask(sink, "u1", nil)))
	mustConnect(t, g, "l1", "doc", "u1", "doc")

	loader.AppendProvenance(ProvenanceItem{TaskType: "load", TaskID: "l1"})

	_, err := NewRunner(g).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, seen, 1)
	assert.Equal(t, "l1", seen[0].TaskID)
}

func TestRunner_RejectsDirtyGraph(t *testing.T) {
	g := NewGraph()
	def := &TaskDefinition{
		Type: "noop",
		Execute: func(_ context.Context, _ *RunContext, _ map[string]any) (map[string]any, error) {
			return map[string]any{}, nil
		},
	}
	require.NoError(t, g.AddTask(NewTask(def, "a", nil)))

	runner := NewRunner(g)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, g.Reset())
	_, err = runner.Run(context.Background())
	assert.NoError(t, err)
}
