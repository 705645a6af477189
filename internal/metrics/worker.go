package metrics

import "time"

// JobEnqueued tracks a job entering the queue
func JobEnqueued(jobType string) {
	JobQueueDepth.WithLabelValues(jobType).Inc()
}

// JobStarted tracks a job leaving the queue
func JobStarted(jobType string) {
	JobQueueDepth.WithLabelValues(jobType).Dec()
}

// JobCompleted records a successful job completion
func JobCompleted(jobType string, duration time.Duration) {
	JobsTotal.WithLabelValues(jobType, "completed").Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobFailed records a job failure
func JobFailed(jobType string) {
	JobsTotal.WithLabelValues(jobType, "failed").Inc()
}

// JobDropped records a job rejected because the queue was full
func JobDropped(jobType string) {
	JobsTotal.WithLabelValues(jobType, "dropped").Inc()
}
