package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/DukeRupert/fiesta/internal/provider"
)

// Event types of the Messages streaming protocol that change control flow.
const (
	eventContentBlockDelta = "content_block_delta"
	eventMessageStop       = "message_stop"
	eventError             = "error"
	deltaText              = "text_delta"
)

type stream struct {
	provider string
	resp     *http.Response
	dec      *provider.SSEDecoder

	closed bool
	done   bool
}

func newStream(providerName string, resp *http.Response) *stream {
	return &stream{
		provider: providerName,
		resp:     resp,
		dec:      provider.NewSSEDecoder(resp.Body),
	}
}

// Recv returns the next text delta. message_start, content_block_start,
// ping and the other bookkeeping events are skipped.
func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", provider.ErrStreamClosed
	}
	for {
		if s.done {
			return "", io.EOF
		}

		ev, err := s.dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				continue
			}
			return "", provider.Upstream(s.provider, err)
		}

		var event apiStreamEvent
		if err := json.Unmarshal(ev.Data, &event); err != nil {
			return "", &provider.UpstreamError{
				Provider: s.provider,
				Message:  "failed to decode stream event",
				Raw:      append([]byte(nil), ev.Data...),
				Err:      fmt.Errorf("decode event: %w", err),
			}
		}
		if event.Type == "" {
			event.Type = ev.Name
		}

		switch event.Type {
		case eventContentBlockDelta:
			if event.Delta.Type == deltaText && event.Delta.Text != "" {
				return event.Delta.Text, nil
			}
		case eventMessageStop:
			s.done = true
		case eventError:
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return "", &provider.UpstreamError{
				Provider: s.provider,
				Message:  msg,
				Raw:      append([]byte(nil), ev.Data...),
			}
		}
	}
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}
