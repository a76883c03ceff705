// Package sse writes server-sent event frames and fans them out to
// subscribers.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var ErrStreamingUnsupported = errors.New("streaming unsupported")

// Frame encodes one event with a JSON data line.
func Frame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)), nil
}

// Stream is an open event-stream response. Every frame is flushed as it is
// written.
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func Open(w http.ResponseWriter) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Stream{w: w, flusher: flusher}, nil
}

func (s *Stream) Send(event string, payload any) error {
	frame, err := Frame(event, payload)
	if err != nil {
		return err
	}
	return s.Write(frame)
}

// Write sends a pre-encoded frame.
func (s *Stream) Write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Stream) Ping() error {
	return s.Write([]byte(": ping\n\n"))
}
