// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm wraps an OpenAI-compatible chat endpoint behind a small
// text-in, text-out client with bounded retry. Local inference servers
// exposing the same API work unchanged; only the base URL differs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Sentinel errors for the LLM client.
var (
	// ErrNoChoices is returned when the endpoint answers without any
	// completion choices.
	ErrNoChoices = errors.New("llm returned no choices")

	// ErrExhausted is returned when every retry attempt failed.
	ErrExhausted = errors.New("llm retries exhausted")
)

// Config identifies the endpoint and model.
type Config struct {
	// BaseURL of the OpenAI-compatible API, e.g. a local inference
	// server. Empty means the upstream default.
	BaseURL string
	// APIKey for the endpoint. Local servers usually accept anything.
	APIKey string
	// Model name to request.
	Model string
	// MaxRetries bounds transient-failure retries. Defaults to 3.
	MaxRetries int
	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is a thin chat-completion client. Safe for concurrent use.
type Client struct {
	api        *openai.Client
	model      string
	maxRetries int
	logger     *slog.Logger
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:        openai.NewClientWithConfig(apiCfg),
		model:      cfg.Model,
		maxRetries: retries,
		logger:     logger,
	}
}

// Generate sends one user prompt, optionally under a system prompt,
// and returns the completion text. Transient failures are retried with
// linear backoff up to the configured limit.
func (c *Client) Generate(ctx context.Context, systemPrompt, prompt string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
		})
		if err == nil {
			if len(resp.Choices) == 0 {
				return "", ErrNoChoices
			}
			return resp.Choices[0].Message.Content, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.logger.Warn("llm request failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return "", fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
