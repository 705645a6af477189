package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/DukeRupert/fiesta/internal/provider"
)

var doneMarker = []byte("[DONE]")

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

// Recv returns the next non-empty content delta.
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
				// Some upstreams close the connection without sending [DONE].
				s.done = true
				continue
			}
			return "", provider.Upstream(s.provider, err)
		}

		data := bytes.TrimSpace(ev.Data)
		if bytes.Equal(data, doneMarker) {
			s.done = true
			continue
		}

		var chunk apiStreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return "", &provider.UpstreamError{
				Provider: s.provider,
				Message:  "failed to decode stream chunk",
				Raw:      append([]byte(nil), data...),
				Err:      fmt.Errorf("decode chunk: %w", err),
			}
		}
		if chunk.Error != nil {
			return "", &provider.UpstreamError{
				Provider: s.provider,
				Message:  chunk.Error.Message,
				Raw:      append([]byte(nil), data...),
			}
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				return choice.Delta.Content, nil
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

type apiStreamChunk struct {
	Choices []apiChoice `json:"choices"`
	Error   *apiError   `json:"error"`
}
