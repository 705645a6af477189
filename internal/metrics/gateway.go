package metrics

import "time"

// AdmissionResult records one entitlement decision.
func AdmissionResult(result string) {
	AdmissionsTotal.WithLabelValues(result).Inc()
}

// SessionFinished records a terminal gateway session.
func SessionFinished(mode, provider, state, code string, elapsed time.Duration) {
	SessionsTotal.WithLabelValues(mode, provider, state, code).Inc()
	SessionDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// FirstChunk records the latency of the first relayed chunk.
func FirstChunk(provider string, elapsed time.Duration) {
	TimeToFirstChunk.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ChunkRelayed counts one chunk event.
func ChunkRelayed(provider string) {
	ChunksRelayedTotal.WithLabelValues(provider).Inc()
}

// Fallback counts a switch to generate-and-emulate.
func Fallback(provider, reason string) {
	FallbacksTotal.WithLabelValues(provider, reason).Inc()
}

// UpstreamError counts a classified upstream failure.
func UpstreamError(provider, kind string) {
	UpstreamErrorsTotal.WithLabelValues(provider, kind).Inc()
}

// Consumption records the metered usage of one finalized request.
func Consumption(provider string, promptTokens, completionTokens int, credits int64, costUSD float64) {
	TokensTotal.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	CreditsDeductedTotal.WithLabelValues(provider).Add(float64(credits))
	CostUSDTotal.WithLabelValues(provider).Add(costUSD)
}
