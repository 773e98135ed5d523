package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatquota/chatquota/internal/model"
)

// OpenAIClient calls an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client. An empty baseURL keeps the library default.
func NewOpenAIClient(baseURL, apiKey string, httpClient *http.Client) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

// Complete maps the conversation onto a chat completion. The system prompt
// becomes the leading system message.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == model.ChatRoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.ContentText()})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  messages,
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode completion: %w", err)
	}

	return &Response{
		Body:         body,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		msg := apiErr.Message
		if msg == "" {
			msg = defaultErrorMessage
		}
		return &Error{StatusCode: apiErr.HTTPStatusCode, Message: msg, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &Error{StatusCode: reqErr.HTTPStatusCode, Message: defaultErrorMessage, Err: err}
	}

	return transportError(err)
}
