package graph

import (
	"context"
	"strings"
	"sync"
)

// DefaultStreamBuffer is the default capacity of a stream's event channel.
// A full channel blocks the producer, which is how backpressure reaches it.
const DefaultStreamBuffer = 64

// StreamWriter is the producer side of an event stream. Send blocks when the
// buffer is full, so a producer is paced by its slowest consumer.
type StreamWriter struct {
	ch chan StreamEvent

	mu     sync.Mutex
	closed bool
}

// StreamReader is the consumer side of an event stream. Each reader is owned
// by exactly one consumer.
type StreamReader struct {
	ch chan StreamEvent

	cancelOnce sync.Once
	cancel     chan struct{}
}

// NewStream creates a connected writer/reader pair with the given buffer
// capacity. A non-positive buffer falls back to DefaultStreamBuffer.
func NewStream(buffer int) (*StreamWriter, *StreamReader) {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	ch := make(chan StreamEvent, buffer)
	return &StreamWriter{ch: ch}, &StreamReader{ch: ch, cancel: make(chan struct{})}
}

// Send delivers an event to the stream, blocking while the buffer is full.
// A terminal event closes the stream. Send returns the context error if the
// caller is cancelled while blocked.
func (w *StreamWriter) Send(ctx context.Context, ev StreamEvent) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrStreamClosed
	}
	if ev.Terminal() {
		// Reserve the close so no event can follow a terminal one.
		w.closed = true
		defer close(w.ch)
	}
	w.mu.Unlock()

	select {
	case w.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delta sends an append-mode text chunk for the given port.
func (w *StreamWriter) Delta(ctx context.Context, port, text string) error {
	return w.Send(ctx, TextDeltaEvent(port, text))
}

// Snapshot sends a replace-mode full-output-so-far.
func (w *StreamWriter) Snapshot(ctx context.Context, data map[string]any) error {
	return w.Send(ctx, SnapshotEvent(data))
}

// Finish sends the terminal success event and closes the stream.
func (w *StreamWriter) Finish(ctx context.Context, data map[string]any) error {
	return w.Send(ctx, FinishEvent(data))
}

// Fail sends the terminal failure event and closes the stream.
func (w *StreamWriter) Fail(ctx context.Context, err error) error {
	return w.Send(ctx, ErrorEvent(err))
}

// Close closes the stream without a terminal event. Consumers observe an
// exhausted stream. Safe to call more than once.
func (w *StreamWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// Recv returns the next event. It returns ErrStreamClosed once the stream is
// exhausted and the context error if the caller is cancelled while waiting.
func (r *StreamReader) Recv(ctx context.Context) (StreamEvent, error) {
	select {
	case ev, ok := <-r.ch:
		if !ok {
			return StreamEvent{}, ErrStreamClosed
		}
		return ev, nil
	case <-ctx.Done():
		return StreamEvent{}, ctx.Err()
	}
}

// Events exposes the raw event channel. The channel is closed after the
// terminal event.
func (r *StreamReader) Events() <-chan StreamEvent {
	return r.ch
}

// Abandon releases the producer from this reader: a tee pump skips abandoned
// branches instead of blocking on them. Used on the abort path.
func (r *StreamReader) Abandon() {
	r.cancelOnce.Do(func() {
		close(r.cancel)
	})
}

// Tee splits one stream into n independent readers. Every event is delivered
// to every branch in order; the pump performs blocking sends, so the producer
// experiences backpressure equal to the slowest reader. Each branch channel
// is closed when the source is exhausted.
func Tee(src *StreamReader, n, buffer int) []*StreamReader {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}

	branches := make([]*StreamReader, n)
	for i := range branches {
		branches[i] = &StreamReader{
			ch:     make(chan StreamEvent, buffer),
			cancel: make(chan struct{}),
		}
	}

	go func() {
		defer func() {
			for _, b := range branches {
				close(b.ch)
			}
		}()

		for ev := range src.ch {
			for _, b := range branches {
				select {
				case b.ch <- ev:
				case <-b.cancel:
				}
			}
		}
	}()

	return branches
}

// AccumulateFinish wraps a raw producer stream and enriches its terminal
// finish so Data carries the final full value for every stream port:
// concatenated text for append ports, the last snapshot for replace ports.
// Every other event passes through unchanged. The wrapper is applied at most
// once per source, before any tee, so accumulation cost does not scale with
// fan-out width.
func AccumulateFinish(src *StreamReader, modes map[string]StreamMode, buffer int) *StreamReader {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}

	out := &StreamReader{
		ch:     make(chan StreamEvent, buffer),
		cancel: make(chan struct{}),
	}

	go func() {
		defer close(out.ch)

		texts := make(map[string]*strings.Builder)
		var lastSnapshot map[string]any

		for ev := range src.ch {
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

			case EventFinish:
				ev = FinishEvent(enrichFinish(ev.Data, modes, texts, lastSnapshot))
			}

			select {
			case out.ch <- ev:
			case <-out.cancel:
				return
			}
		}
	}()

	return out
}

// enrichFinish fills the finish payload with accumulated values for stream
// ports the producer left out. Explicit finish data always wins.
func enrichFinish(data map[string]any, modes map[string]StreamMode, texts map[string]*strings.Builder, lastSnapshot map[string]any) map[string]any {
	result := make(map[string]any, len(data))
	for k, v := range data {
		result[k] = v
	}

	for port, mode := range modes {
		if _, ok := result[port]; ok {
			continue
		}
		switch mode {
		case StreamModeAppend:
			if b, ok := texts[port]; ok {
				result[port] = b.String()
			}
		case StreamModeReplace:
			if lastSnapshot != nil {
				if v, ok := lastSnapshot[port]; ok {
					result[port] = v
				}
			}
		}
	}

	return result
}
