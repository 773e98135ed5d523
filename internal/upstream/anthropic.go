package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/chatquota/chatquota/internal/model"
)

// AnthropicVersion is sent in the anthropic-version header.
const AnthropicVersion = "2023-06-01"

// AnthropicClient calls the Messages API.
type AnthropicClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAnthropicClient creates a client for baseURL (e.g. https://api.anthropic.com).
func NewAnthropicClient(baseURL, apiKey string, httpClient *http.Client) *AnthropicClient {
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type anthropicRequest struct {
	Model     string              `json:"model"`
	MaxTokens int                 `json:"max_tokens"`
	System    string              `json:"system,omitempty"`
	Messages  []model.ChatMessage `json:"messages"`
}

// Complete posts the conversation to /v1/messages.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	payload, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.System,
		Messages:  req.Messages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", AnthropicVersion)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = defaultErrorMessage
		}
		return nil, &Error{StatusCode: resp.StatusCode, Message: msg}
	}

	if !gjson.ValidBytes(body) {
		return nil, transportError(fmt.Errorf("response is not valid JSON"))
	}

	// Missing usage fields read as zero; the estimator applies its floor.
	usage := gjson.GetManyBytes(body, "usage.input_tokens", "usage.output_tokens")
	return &Response{
		Body:         body,
		InputTokens:  int(usage[0].Int()),
		OutputTokens: int(usage[1].Int()),
	}, nil
}
