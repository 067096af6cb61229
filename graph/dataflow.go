package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DataflowStatus is the lifecycle state of an edge, derived from its source
// task's status.
type DataflowStatus string

const (
	// DataflowPending means the source has not produced anything yet.
	DataflowPending DataflowStatus = "PENDING"

	// DataflowStreaming means a live stream is attached for this edge.
	DataflowStreaming DataflowStatus = "STREAMING"

	// DataflowCompleted means the edge value is materialized.
	DataflowCompleted DataflowStatus = "COMPLETED"

	// DataflowFailed means the source failed or was aborted.
	DataflowFailed DataflowStatus = "FAILED"
)

// Dataflow is a typed connection from a source task's output port to a
// target task's input port. Either port may be the wildcard meaning
// whole-output on the source side and merge-into-input on the target side.
// The edge carries either a materialized value or a live stream handle.
type Dataflow struct {
	// SourceTaskID is the producing task.
	SourceTaskID string

	// SourcePortID is the producing port, possibly PortWildcard.
	SourcePortID string

	// TargetTaskID is the consuming task.
	TargetTaskID string

	// TargetPortID is the consuming port, possibly PortWildcard.
	TargetPortID string

	mu       sync.Mutex
	status   DataflowStatus
	value    any
	hasValue bool
	stream   *StreamReader
	err      error
}

// NewDataflow creates a pending edge between the given ports.
func NewDataflow(sourceTaskID, sourcePortID, targetTaskID, targetPortID string) *Dataflow {
	return &Dataflow{
		SourceTaskID: sourceTaskID,
		SourcePortID: sourcePortID,
		TargetTaskID: targetTaskID,
		TargetPortID: targetPortID,
		status:       DataflowPending,
	}
}

// ID returns a stable identifier for the edge.
func (d *Dataflow) ID() string {
	return fmt.Sprintf("%s.%s->%s.%s", d.SourceTaskID, d.SourcePortID, d.TargetTaskID, d.TargetPortID)
}

// Status returns the edge's current status.
func (d *Dataflow) Status() DataflowStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Value returns the materialized value. The second result is false until the
// edge is completed or a snapshot arrived mid-stream.
func (d *Dataflow) Value() (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.value, d.hasValue
}

// Err returns the failure attached to the edge.
func (d *Dataflow) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Stream returns the live stream handle, if any.
func (d *Dataflow) Stream() *StreamReader {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

// inputState returns one consistent view of the edge's status, value,
// stream handle and error.
func (d *Dataflow) inputState() (DataflowStatus, any, *StreamReader, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, d.value, d.stream, d.err
}

// markStreaming attaches a tee branch and moves the edge to STREAMING.
func (d *Dataflow) markStreaming(r *StreamReader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == DataflowPending {
		d.status = DataflowStreaming
		d.stream = r
	}
}

// complete materializes the value and moves the edge to COMPLETED. The
// stream handle is cleared: terminal consumption is done.
func (d *Dataflow) complete(value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.value = value
	d.hasValue = true
	d.status = DataflowCompleted
	d.stream = nil
}

// fail moves the edge to FAILED and releases any attached stream.
func (d *Dataflow) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == DataflowCompleted || d.status == DataflowFailed {
		return
	}
	d.status = DataflowFailed
	d.err = err
	if d.stream != nil {
		d.stream.Abandon()
		d.stream = nil
	}
}

// Reset returns the edge to PENDING, clearing value, error and stream.
func (d *Dataflow) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		d.stream.Abandon()
	}
	d.status = DataflowPending
	d.value = nil
	d.hasValue = false
	d.stream = nil
	d.err = nil
}

// AwaitValue consumes the attached stream, if any, and produces the final
// materialized value for the edge. Priority: the last snapshot wins, then a
// non-empty finish, then text accumulated from the observed deltas (the
// producer ships that accumulation in an enriched finish; the local fallback
// only covers raw streams). An error event fails the edge and is returned.
func (d *Dataflow) AwaitValue(ctx context.Context) (any, error) {
	d.mu.Lock()
	switch d.status {
	case DataflowCompleted:
		v := d.value
		d.mu.Unlock()
		return v, nil
	case DataflowFailed:
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	stream := d.stream
	d.mu.Unlock()

	if stream == nil {
		return nil, fmt.Errorf("dataflow %s: no value and no stream to await", d.ID())
	}

	var lastSnapshot map[string]any
	var finishData map[string]any
	texts := make(map[string]*strings.Builder)

	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrStreamClosed) {
				break
			}
			d.fail(err)
			return nil, err
		}

		switch ev.Type {
		case EventTextDelta:
			b, ok := texts[ev.Port]
			if !ok {
				b = &strings.Builder{}
				texts[ev.Port] = b
			}
			b.WriteString(ev.TextDelta)

		case EventSnapshot:
			lastSnapshot = ev.Data
			// A snapshot defines the value mid-stream.
			d.mu.Lock()
			d.value = extractPortValue(ev.Data, d.SourcePortID)
			d.hasValue = true
			d.mu.Unlock()

		case EventFinish:
			finishData = ev.Data

		case EventError:
			d.fail(ev.Err)
			return nil, ev.Err
		}

		if ev.Terminal() {
			break
		}
	}

	var data map[string]any
	switch {
	case lastSnapshot != nil:
		data = lastSnapshot
	case len(finishData) > 0:
		data = finishData
	default:
		data = make(map[string]any, len(texts))
		for port, b := range texts {
			data[port] = b.String()
		}
	}

	value := extractPortValue(data, d.SourcePortID)
	d.complete(value)
	return value, nil
}

// extractPortValue picks the value an edge carries out of a source output
// object: the whole object for the wildcard port, the named entry otherwise.
func extractPortValue(output map[string]any, sourcePort string) any {
	if IsWildcard(sourcePort) {
		return output
	}
	return output[sourcePort]
}
