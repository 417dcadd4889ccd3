package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rhuss/colloquy/pkg/api"
	"github.com/rhuss/colloquy/pkg/transport"
)

// writerState tracks the state of an eventWriter.
type writerState int

const (
	writerIdle      writerState = iota // nothing written yet
	writerStreaming                    // at least one delta sent
	writerCompleted                    // done, error or a JSON reply sent
)

var (
	errWriterCompleted = errors.New("writer is completed")
	errAlreadyStreamed = errors.New("streaming has already started")
)

// eventWriter implements transport.EventWriter on an http.ResponseWriter.
// Streaming replies use the delta/done/error SSE protocol; non-streaming
// replies are a single JSON body.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState
	sse   bool
}

var _ transport.EventWriter = (*eventWriter)(nil)

func newEventWriter(w http.ResponseWriter) *eventWriter {
	return &eventWriter{w: w, rc: http.NewResponseController(w)}
}

func (s *eventWriter) WriteDelta(_ context.Context, text string) error {
	return s.event(api.RelayDelta, api.DeltaPayload{Delta: text})
}

func (s *eventWriter) WriteDone(_ context.Context, msg *api.Message) error {
	return s.event(api.RelayDone, api.DonePayload{Message: msg})
}

func (s *eventWriter) WriteError(_ context.Context, apiErr *api.APIError) error {
	return s.event(api.RelayError, api.ErrorPayload{Message: apiErr.Message, Code: apiErr.Code})
}

// event writes one frame:
//
//	event: {name}
//	data: {json}
//
// A terminal frame completes the writer.
func (s *eventWriter) event(name api.RelayEventType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errWriterCompleted
	}
	if s.state == writerIdle {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.sse = true
		s.state = writerStreaming
	}
	if name.IsTerminal() {
		s.state = writerCompleted
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("writing %s event: %w", name, err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing %s event: %w", name, err)
	}
	return nil
}

// WriteMessage sends {"message": ...} as the whole response. It fails once
// an SSE frame went out.
func (s *eventWriter) WriteMessage(_ context.Context, msg *api.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case writerStreaming:
		return errAlreadyStreamed
	case writerCompleted:
		return errWriterCompleted
	}
	s.state = writerCompleted

	s.w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(s.w).Encode(api.DonePayload{Message: msg}); err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return nil
}

func (s *eventWriter) Flush() error {
	return s.rc.Flush()
}

// started reports whether an SSE frame was sent, so a late failure can no
// longer become a JSON error body.
func (s *eventWriter) started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sse
}

// completed reports whether a terminal frame or JSON body was sent.
func (s *eventWriter) completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerCompleted
}
