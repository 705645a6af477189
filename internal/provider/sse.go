package provider

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one decoded server-sent event.
type Event struct {
	Name string // Value of the `event:` field, empty when absent
	Data []byte // `data:` lines joined with "\n"
}

// SSEDecoder reads server-sent events from an upstream response body.
type SSEDecoder struct {
	r *bufio.Reader
}

// NewSSEDecoder wraps r with a 64 KiB buffered reader.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	return &SSEDecoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next event that carries data. Comment lines are skipped.
// An event left unterminated at EOF is still returned; io.EOF follows.
func (d *SSEDecoder) Next() (Event, error) {
	var ev Event
	var dataLines [][]byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			line = bytes.TrimRight(line, "\r\n")
			if len(line) > 0 {
				dataLines = appendField(&ev, dataLines, line)
			}
			if len(dataLines) > 0 {
				ev.Data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
			return Event{}, err
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(dataLines) == 0 {
				ev = Event{}
				continue
			}
			ev.Data = bytes.Join(dataLines, []byte("\n"))
			return ev, nil
		}

		if line[0] == ':' {
			continue
		}
		dataLines = appendField(&ev, dataLines, line)
	}
}

func appendField(ev *Event, dst [][]byte, line []byte) [][]byte {
	switch {
	case bytes.HasPrefix(line, []byte("event:")):
		ev.Name = string(bytes.TrimSpace(line[len("event:"):]))
		return dst
	case bytes.HasPrefix(line, []byte("data:")):
		val := line[len("data:"):]
		if len(val) > 0 && val[0] == ' ' {
			val = val[1:]
		}
		return append(dst, append([]byte(nil), val...))
	default:
		return dst
	}
}
