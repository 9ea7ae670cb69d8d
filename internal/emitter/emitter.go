// Package emitter publishes sweep summaries to output backends.
package emitter

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/yairfalse/sweeper/internal/sweep"
)

// Emitter outputs sweep summaries to a backend.
type Emitter interface {
	// Emit publishes one sweep unit's summary.
	Emit(ctx context.Context, sum *sweep.Summary) error

	// Close cleans up resources.
	Close() error
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Emit sends to all emitters, returns first error.
func (m *MultiEmitter) Emit(ctx context.Context, sum *sweep.Summary) error {
	for _, e := range m.emitters {
		if err := e.Emit(ctx, sum); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			return err
		}
	}
	return nil
}

// JSONEmitter writes each summary as one JSON line.
type JSONEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONEmitter creates an emitter writing to w.
func NewJSONEmitter(w io.Writer) *JSONEmitter {
	return &JSONEmitter{enc: json.NewEncoder(w)}
}

// Emit writes sum.
func (e *JSONEmitter) Emit(_ context.Context, sum *sweep.Summary) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(sum)
}

// Close is a no-op; the writer belongs to the caller.
func (e *JSONEmitter) Close() error {
	return nil
}
