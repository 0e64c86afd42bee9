package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/randalmurphal/flowgen/pkg/flowgen"
)

// sseStream writes server-sent events and flushes after each one.
type sseStream struct {
	w io.Writer
	f http.Flusher
}

// newSSEStream sends the event-stream headers and a 200 status.
func newSSEStream(w http.ResponseWriter) *sseStream {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var f http.Flusher
	if fl, ok := w.(http.Flusher); ok {
		f = fl
		f.Flush()
	}
	return &sseStream{w: w, f: f}
}

// send writes one event as id, event and data fields.
func (s *sseStream) send(ev flowgen.Event) error {
	if s == nil || s.w == nil {
		return errors.New("stream not ready")
	}

	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", ev.ID)
	fmt.Fprintf(&b, "event: %s\n", ev.Kind)
	fmt.Fprintf(&b, "data: %s\n\n", data)
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}
