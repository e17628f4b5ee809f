package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Finish reasons reported by a model call.
const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Request is one model invocation.
type Request struct {
	ModelID      string `json:"model"`
	ModelSlug    string `json:"model_slug,omitempty"`
	Prompt       string `json:"prompt"`
	ContinueFrom string `json:"continue_from,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`
	AuthToken    string `json:"-"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is what a model returned.
type Response struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
	Usage        Usage  `json:"usage"`
}

// Truncated reports whether the model stopped because it ran out of tokens.
func (r *Response) Truncated() bool {
	return r != nil && r.FinishReason == FinishLength
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model endpoint responded %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the provider signalled a transient failure.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// HTTPCaller posts requests as JSON to a single generation endpoint.
type HTTPCaller struct {
	endpoint string
	client   *http.Client
}

func NewHTTPCaller(endpoint string, timeout time.Duration, client *http.Client) *HTTPCaller {
	if client == nil {
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPCaller{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (c *HTTPCaller) Call(ctx context.Context, req Request) (*Response, error) {
	if c.endpoint == "" {
		return nil, errors.New("model endpoint is not configured")
	}
	if strings.TrimSpace(req.ModelID) == "" {
		return nil, errors.New("model id is required")
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(req.AuthToken); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call model %s: %w", req.ModelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	if out.FinishReason == "" {
		out.FinishReason = FinishStop
	}
	return &out, nil
}
