// Package sse writes Server-Sent Events in the OpenAI streaming format:
// one JSON payload per "data:" line, terminated by "data: [DONE]".
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// DoneMarker ends an OpenAI-compatible stream.
const DoneMarker = "[DONE]"

// DefaultChunkSize is the target size in bytes of one streamed content piece.
const DefaultChunkSize = 48

// ErrorEvent is sent when a stream fails after headers were written.
type ErrorEvent struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody mirrors the OpenAI error object.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Writer wraps an http.ResponseWriter for SSE output.
// It sets the required headers and provides methods to send typed events.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares the response for SSE streaming.
// Returns nil if the ResponseWriter does not support flushing.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// Send emits one unnamed data event.
func (s *Writer) Send(data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	return s.write(fmt.Sprintf("data: %s\n\n", payload))
}

// SendError emits an error payload in the OpenAI shape.
func (s *Writer) SendError(errType, msg string) error {
	return s.Send(ErrorEvent{Error: ErrorBody{Message: msg, Type: errType}})
}

// Done terminates the stream.
func (s *Writer) Done() error {
	return s.write("data: " + DoneMarker + "\n\n")
}

func (s *Writer) write(frame string) error {
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Split breaks text into pieces of roughly size bytes, cutting after
// whitespace where possible and never inside a UTF-8 sequence. Joining the
// pieces yields text unchanged.
func Split(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if text == "" {
		return nil
	}

	var pieces []string
	for len(text) > size {
		cut := strings.LastIndexAny(text[:size], " \n\t")
		if cut <= 0 {
			cut = size
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				_, n := utf8.DecodeRuneInString(text)
				cut = n
			}
		} else {
			cut++
		}
		pieces = append(pieces, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}
