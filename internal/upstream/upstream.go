// Package upstream talks to the conversational model behind the proxy.
// Responses are kept as opaque JSON; only the token usage is interpreted.
package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/chatquota/chatquota/internal/model"
)

const (
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 10 * time.Second
	// maxResponseBytes caps how much of an upstream body is read.
	maxResponseBytes = 4 << 20
	// defaultErrorMessage is used when the upstream error carries no message.
	defaultErrorMessage = "API request failed"
)

// Request is a single completion call.
type Request struct {
	Model     string
	MaxTokens int
	System    string
	Messages  []model.ChatMessage
}

// Response is a successful completion.
// Body is the upstream JSON payload, returned to the caller as-is.
type Response struct {
	Body         []byte
	InputTokens  int
	OutputTokens int
}

// Client completes conversations.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Error is a non-success outcome from the upstream API. StatusCode is
// forwarded to the caller; transport failures use 502.
type Error struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %d: %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transportError(err error) *Error {
	return &Error{StatusCode: http.StatusBadGateway, Message: "upstream unavailable", Err: err}
}

// NewHTTPClient creates an HTTP client for upstream calls. timeout bounds
// the whole exchange, including reading the completion.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: TLSHandshakeTimeout,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
