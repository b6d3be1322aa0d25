// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pr opens pull requests for applied changes through the
// GitHub REST v3 API. Kept deliberately small: one create call, one
// status readback.
package pr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianForge/services/improver/core"
)

// ErrNoToken is returned when no API token is configured.
var ErrNoToken = errors.New("no github token configured")

// DefaultBaseURL is the public GitHub API endpoint. Overridable for
// GitHub Enterprise and tests.
const DefaultBaseURL = "https://api.github.com"

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient swaps the transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the GitHub pulls API.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client authenticated by token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

type pullResponse struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Title   string `json:"title"`
}

// Create opens a pull request from head into base on owner/repo and
// returns its summary.
func (c *Client) Create(ctx context.Context, repoID uuid.UUID, owner, repo, head, base, title, body string) (*core.PRSummary, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}

	payload, err := json.Marshal(createRequest{Title: title, Body: body, Head: head, Base: base})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/repos/%s/%s/pulls", c.baseURL, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("create pull request: status %d: %s", resp.StatusCode, snippet)
	}

	var pull pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pull); err != nil {
		return nil, fmt.Errorf("decode pull response: %w", err)
	}

	c.logger.Info("opened pull request",
		slog.Int("number", pull.Number),
		slog.String("url", pull.HTMLURL))

	return &core.PRSummary{
		ID:          uuid.New(),
		RepoID:      repoID,
		Number:      pull.Number,
		URL:         pull.HTMLURL,
		Title:       title,
		Description: body,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Status reads a pull request's state ("open", "closed").
func (c *Client) Status(ctx context.Context, owner, repo string, number int) (string, error) {
	if c.token == "" {
		return "", ErrNoToken
	}
	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", c.baseURL, owner, repo, number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pull request status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pull request status: status %d", resp.StatusCode)
	}
	var pull pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pull); err != nil {
		return "", fmt.Errorf("decode pull response: %w", err)
	}
	return pull.State, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
}
