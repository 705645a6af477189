package gateway

import (
	"context"
	"time"
)

// Emulation defaults.
const (
	DefaultChunkSize = 120
	DefaultDelay     = 20 * time.Millisecond
)

// Emulator replays a complete text as a stream of rune windows.
type Emulator struct {
	ChunkSize int           // Runes per chunk; DefaultChunkSize when ≤ 0
	Delay     time.Duration // Pause between chunks; none when ≤ 0
}

// Chunks splits text into windows of at most ChunkSize runes. A UTF-8
// sequence is never split.
func (e Emulator) Chunks(text string) []string {
	size := e.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	start, n := 0, 0
	for i := range text {
		if n == size {
			chunks = append(chunks, text[start:i])
			start, n = i, 0
		}
		n++
	}
	if start < len(text) {
		chunks = append(chunks, text[start:])
	}
	return chunks
}

// Emulate starts a producer goroutine that sends the chunks of text on the
// returned channel, pausing Delay between them. The channel is closed after
// the last chunk or as soon as ctx is done.
func (e Emulator) Emulate(ctx context.Context, text string) <-chan string {
	out := make(chan string)
	chunks := e.Chunks(text)

	go func() {
		defer close(out)

		var timer *time.Timer
		if e.Delay > 0 {
			timer = time.NewTimer(e.Delay)
			defer timer.Stop()
		}

		for i, chunk := range chunks {
			if i > 0 && timer != nil {
				timer.Reset(e.Delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
