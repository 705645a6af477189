package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/DukeRupert/fiesta/internal/provider"
)

// stream reads the JSON array streamGenerateContent returns, one element at
// a time, without buffering the whole body.
type stream struct {
	p    *Provider
	resp *http.Response
	dec  *json.Decoder

	opened bool
	closed bool
	done   bool
}

func newStream(p *Provider, resp *http.Response) *stream {
	return &stream{
		p:    p,
		resp: resp,
		dec:  json.NewDecoder(resp.Body),
	}
}

func (s *stream) Recv() (string, error) {
	if s.closed {
		return "", provider.ErrStreamClosed
	}
	if !s.opened {
		if err := s.expectDelim('['); err != nil {
			return "", err
		}
		s.opened = true
	}

	for {
		if s.done {
			return "", io.EOF
		}
		if !s.dec.More() {
			if err := s.expectDelim(']'); err != nil {
				return "", err
			}
			s.done = true
			continue
		}

		var chunk apiResponse
		if err := s.dec.Decode(&chunk); err != nil {
			return "", s.decodeError(err)
		}
		if chunk.Error != nil {
			return "", s.p.bodyError(chunk.Error)
		}
		if text := chunk.text(); text != "" {
			return text, nil
		}
	}
}

func (s *stream) expectDelim(want json.Delim) error {
	tok, err := s.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) && want == '[' {
			// An empty body is an empty stream.
			s.done = true
			return nil
		}
		return s.decodeError(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return &provider.UpstreamError{
			Provider: s.p.Name(),
			Message:  fmt.Sprintf("unexpected token %v in stream", tok),
		}
	}
	return nil
}

func (s *stream) decodeError(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &provider.UpstreamError{Provider: s.p.Name(), Message: "stream ended mid-chunk", Err: err}
	}
	return provider.Upstream(s.p.Name(), fmt.Errorf("decode stream: %w", err))
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.resp.Body.Close()
}
