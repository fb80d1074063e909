package limiter

import "time"

// Metric names reported by the backends.
const (
	metricCall    = "ratelimit.call"
	metricLatency = "ratelimit.latency"
)

// Values of the "outcome" tag on ratelimit.call.
const (
	outcomeGranted = "granted"
	outcomeDenied  = "denied"
	outcomeError   = "error"
)

// MetricsRecorder receives counters and timing observations from limiter
// backends. Implementations must be safe for concurrent use.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}

// NoOpMetricsRecorder is the default recorder and does nothing. Having it in
// place means the hot path never checks the recorder for nil.
type NoOpMetricsRecorder struct{}

func (n *NoOpMetricsRecorder) Add(name string, value float64, tags map[string]string)     {}
func (n *NoOpMetricsRecorder) Observe(name string, value float64, tags map[string]string) {}

// observeAttempt reports one completed store attempt: a call counter tagged
// with the outcome and the attempt latency in seconds.
func observeAttempt(rec MetricsRecorder, start time.Time, outcome string) {
	rec.Add(metricCall, 1, map[string]string{"outcome": outcome})
	rec.Observe(metricLatency, time.Since(start).Seconds(), nil)
}
