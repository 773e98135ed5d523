package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncChatAdmitted is a no-op.
func (n *NoopRecorder) IncChatAdmitted() {}

// IncChatRejected is a no-op.
func (n *NoopRecorder) IncChatRejected(reason string) {}

// IncAccrualFailure is a no-op.
func (n *NoopRecorder) IncAccrualFailure() {}

// AddMinutesAccrued is a no-op.
func (n *NoopRecorder) AddMinutesAccrued(minutes float64) {}

// ObserveUpstreamDuration is a no-op.
func (n *NoopRecorder) ObserveUpstreamDuration(duration time.Duration) {}

// IncUpstreamFailure is a no-op.
func (n *NoopRecorder) IncUpstreamFailure(status int) {}

// ObserveHTTPRequest is a no-op.
func (n *NoopRecorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {}
