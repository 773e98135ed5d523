package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestOpenAIClient_Success(t *testing.T) {
	t.Parallel()

	var got struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-openai" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hi"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 140, "total_tokens": 260}
		}`))
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAIClient(srv.URL+"/v1", "sk-openai", NewHTTPClient(5*time.Second))
	req := testRequest()
	req.Model = "gpt-4o-mini"

	resp, err := c.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if resp.InputTokens != 120 || resp.OutputTokens != 140 {
		t.Errorf("usage = %d/%d, want 120/140", resp.InputTokens, resp.OutputTokens)
	}
	if gjson.GetBytes(resp.Body, "choices.0.message.content").String() != "Hi" {
		t.Errorf("body = %s", resp.Body)
	}

	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[0].Content != "Be brief." {
		t.Errorf("system prompt not sent first: %+v", got.Messages)
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "Ciao" {
		t.Errorf("user message = %+v", got.Messages[1])
	}
	if got.MaxTokens != 500 {
		t.Errorf("max_tokens = %d", got.MaxTokens)
	}
}

func TestOpenAIClient_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	}))
	t.Cleanup(srv.Close)

	c := NewOpenAIClient(srv.URL+"/v1", "k", NewHTTPClient(5*time.Second))
	_, err := c.Complete(context.Background(), testRequest())

	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if upErr.StatusCode != http.StatusTooManyRequests || upErr.Message != "Rate limit reached" {
		t.Errorf("got %d %q", upErr.StatusCode, upErr.Message)
	}
}

func TestOpenAIClient_TransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewOpenAIClient(url+"/v1", "k", NewHTTPClient(time.Second))
	_, err := c.Complete(context.Background(), testRequest())

	var upErr *Error
	if !errors.As(err, &upErr) || upErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want 502 *Error", err)
	}
}
