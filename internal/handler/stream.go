package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/DukeRupert/fiesta/internal/gateway"
)

// Stream framings.
const (
	contentTypeNDJSON = "application/x-ndjson"
	contentTypeSSE    = "text/event-stream"
)

// eventWriter frames gateway events onto a response. Headers are written on
// the first event, so a request rejected before streaming can still get a
// regular status code.
type eventWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	sse     bool
	started bool
}

func newEventWriter(w http.ResponseWriter, r *http.Request) *eventWriter {
	return &eventWriter{
		w:   w,
		rc:  http.NewResponseController(w),
		sse: wantsSSE(r),
	}
}

// wantsSSE reports whether the client asked for event-stream framing.
func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), contentTypeSSE)
}

func (ew *eventWriter) start() {
	h := ew.w.Header()
	if ew.sse {
		h.Set("Content-Type", contentTypeSSE)
		h.Set("Connection", "keep-alive")
	} else {
		h.Set("Content-Type", contentTypeNDJSON)
	}
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	ew.w.WriteHeader(http.StatusOK)
	ew.started = true
}

// Emit writes and flushes one event. It satisfies gateway.Emitter.
func (ew *eventWriter) Emit(ev gateway.Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if !ew.started {
		ew.start()
	}

	var frame []byte
	if ew.sse {
		frame = make([]byte, 0, len(line)+8)
		frame = append(frame, "data: "...)
		frame = append(frame, line...)
		frame = append(frame, '\n', '\n')
	} else {
		frame = append(line, '\n')
	}

	if _, err := ew.w.Write(frame); err != nil {
		return err
	}
	if err := ew.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
