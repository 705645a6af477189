package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background job worker.
type Config struct {
	// Concurrency is the number of goroutines draining the queue.
	// Default: 2
	Concurrency int

	// QueueSize bounds the number of pending jobs. Enqueue fails fast
	// when the queue is full.
	// Default: 1024
	QueueSize int

	// JobTimeout is the maximum time a single attempt may run.
	// Default: 10 seconds
	JobTimeout time.Duration

	// MaxAttempts is how many times a failing job runs before it is dropped.
	// Permanent errors are never retried.
	// Default: 3
	MaxAttempts int

	// RetryDelay is the pause before the first retry; it doubles per attempt.
	// Default: 200 milliseconds
	RetryDelay time.Duration

	// ShutdownTimeout is how long Stop waits for queued jobs to drain.
	// Default: 30 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		QueueSize:       1024,
		JobTimeout:      10 * time.Second,
		MaxAttempts:     3,
		RetryDelay:      200 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Concurrency > 100 {
		return fmt.Errorf("concurrency too high (max 100), got %d", c.Concurrency)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.JobTimeout < 10*time.Millisecond {
		return fmt.Errorf("job timeout must be at least 10ms, got %v", c.JobTimeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %v", c.RetryDelay)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
