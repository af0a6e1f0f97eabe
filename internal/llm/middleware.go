package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ChatMiddleware intercepts LLM requests and/or responses. The only stage
// defined here, RetryMiddleware, is a no-op; §6's 429/5xx retry policy is
// applied by RetryingProvider, which wraps the Provider itself.
type ChatMiddleware interface {
	Name() string
	ProcessRequest(ctx context.Context, req *ChatRequest, meta *RequestMeta) error
	ProcessResponse(ctx context.Context, req *ChatRequest, resp *ChatResponse, meta *RequestMeta) error
}

// RequestMeta carries mutable context through the chain.
type RequestMeta struct {
	ModelName string
	SenderID  string
	Channel   string
	Tags      map[string]string
}

// NewRequestMeta creates a RequestMeta with an initialized Tags map.
func NewRequestMeta(modelName string) *RequestMeta {
	return &RequestMeta{ModelName: modelName, Tags: make(map[string]string)}
}

// Chain holds an ordered list of middleware around a Provider.
type Chain struct {
	Middlewares []ChatMiddleware
	Provider    Provider
}

// NewChain creates a chain with the given provider and no middleware.
func NewChain(prov Provider) *Chain {
	return &Chain{Provider: prov}
}

// Use appends middleware to the chain.
func (c *Chain) Use(mw ...ChatMiddleware) {
	c.Middlewares = append(c.Middlewares, mw...)
}

// Process runs pre-hooks, the LLM call, then post-hooks.
func (c *Chain) Process(ctx context.Context, req *ChatRequest, meta *RequestMeta) (*ChatResponse, error) {
	if meta == nil {
		meta = NewRequestMeta("")
	}
	for _, mw := range c.Middlewares {
		if err := mw.ProcessRequest(ctx, req, meta); err != nil {
			return nil, fmt.Errorf("middleware %s pre-hook: %w", mw.Name(), err)
		}
	}

	resp, err := c.Provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, mw := range c.Middlewares {
		if err := mw.ProcessResponse(ctx, req, resp, meta); err != nil {
			return nil, fmt.Errorf("middleware %s post-hook: %w", mw.Name(), err)
		}
	}
	return resp, nil
}

// RetryMiddleware is a no-op at the Chain pre/post-hook layer; the actual
// retry loop wraps the Provider itself (see RetryingProvider) because a
// retry needs to re-invoke the call, not just observe it.
type RetryMiddleware struct{}

func (RetryMiddleware) Name() string { return "retry" }
func (RetryMiddleware) ProcessRequest(context.Context, *ChatRequest, *RequestMeta) error {
	return nil
}
func (RetryMiddleware) ProcessResponse(context.Context, *ChatRequest, *ChatResponse, *RequestMeta) error {
	return nil
}

// RetryingProvider wraps a Provider with linear backoff on 429/5xx
// responses, per spec §6 ("Rate-limit (429) and 5xx responses retry with
// linear backoff").
type RetryingProvider struct {
	Provider   Provider
	MaxRetries int
	Backoff    time.Duration
}

// NewRetryingProvider wraps prov with the default retry policy (up to 3
// retries after the first call, linear backoff starting at 500ms).
func NewRetryingProvider(prov Provider) *RetryingProvider {
	return &RetryingProvider{Provider: prov, MaxRetries: 3, Backoff: 500 * time.Millisecond}
}

func (p *RetryingProvider) DefaultModel() string { return p.Provider.DefaultModel() }

func (p *RetryingProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		resp, err := p.Provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var statusErr *StatusError
		if se, ok := err.(*StatusError); ok {
			statusErr = se
		}
		if statusErr == nil || !statusErr.Retryable() || attempt == p.MaxRetries {
			return nil, err
		}
		wait := p.Backoff * time.Duration(attempt+1)
		slog.Warn("llm: retrying after transient error", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
