package graph

// StreamEventType discriminates the events flowing from a streaming producer
// to its consumers.
type StreamEventType string

const (
	// EventTextDelta is an append-mode chunk for a named output port.
	EventTextDelta StreamEventType = "text-delta"

	// EventSnapshot is a replace-mode full-output-so-far.
	EventSnapshot StreamEventType = "snapshot"

	// EventFinish is the terminal success event. Data may be empty when the
	// producer already emitted full content via deltas or snapshots.
	EventFinish StreamEventType = "finish"

	// EventError is the terminal failure event.
	EventError StreamEventType = "error"
)

// StreamEvent is a single message in the producer -> consumer channel.
type StreamEvent struct {
	// Type discriminates the event.
	Type StreamEventType

	// Port is the output port a text-delta belongs to.
	Port string

	// TextDelta is the chunk carried by a text-delta event.
	TextDelta string

	// Data is the payload of snapshot and finish events.
	Data map[string]any

	// Err is the failure carried by an error event.
	Err error
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventFinish || e.Type == EventError
}

// TextDeltaEvent builds an append-mode chunk event for a port.
func TextDeltaEvent(port, delta string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Port: port, TextDelta: delta}
}

// SnapshotEvent builds a replace-mode snapshot event.
func SnapshotEvent(data map[string]any) StreamEvent {
	return StreamEvent{Type: EventSnapshot, Data: data}
}

// FinishEvent builds the terminal success event.
func FinishEvent(data map[string]any) StreamEvent {
	return StreamEvent{Type: EventFinish, Data: data}
}

// ErrorEvent builds the terminal failure event.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}
