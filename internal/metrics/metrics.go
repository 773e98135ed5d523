// Package metrics provides instrumentation hooks for the chat proxy.
package metrics

import "time"

// Rejection reasons for IncChatRejected.
const (
	RejectQuota     = "quota"
	RejectRateLimit = "rate_limit"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Chat admission and accounting
	IncChatAdmitted()
	IncChatRejected(reason string)
	IncAccrualFailure()
	AddMinutesAccrued(minutes float64)

	// Upstream calls
	ObserveUpstreamDuration(duration time.Duration)
	IncUpstreamFailure(status int)

	// HTTP
	ObserveHTTPRequest(method, route string, status int, duration time.Duration)
}
