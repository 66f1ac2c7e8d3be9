//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package serper provides a Serper.dev web-search tool for real-time
// information such as recent events, prices and sports results.
package serper

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

const (
	// defaultBaseURL is the Serper search endpoint.
	defaultBaseURL = "https://google.serper.dev"
	// defaultTimeout bounds a single search call.
	defaultTimeout = 10 * time.Second
	// defaultLocale is applied to both geolocation and language.
	defaultLocale = "en"

	// maxQueryLength is the longest accepted search query.
	maxQueryLength = 500
	// maxResults caps the returned result list.
	maxResults = 10
	// maxTitleLength caps each result title.
	maxTitleLength = 200
	// maxSnippetLength caps each result snippet.
	maxSnippetLength = 500
)

// Result is a single cleaned organic search result.
type Result struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

// Client talks to the Serper search API.
type Client struct {
	apiKey     string
	baseURL    string
	locale     string
	httpClient *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint. Intended for tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client to use.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLocale sets the geolocation/language code sent with each query.
func WithLocale(locale string) ClientOption {
	return func(c *Client) {
		c.locale = locale
	}
}

// NewClient creates a Serper client. The API key is required; without it the
// search tool is unavailable.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("serper API key is not configured, internet search is unavailable")
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		locale:     defaultLocale,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
	GL  string `json:"gl"`
	HL  string `json:"hl"`
}

type searchResponse struct {
	Organic []struct {
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
		Position int    `json:"position"`
	} `json:"organic"`
}

// Search runs a search query and returns the cleaned organic results.
// Entries missing any of title, link or snippet are dropped; title and
// snippet are length-capped and at most ten results are returned.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query cannot be empty")
	}
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("search query too long (max %d characters)", maxQueryLength)
	}

	body, err := json.Marshal(searchRequest{Q: query, Num: maxResults, GL: c.locale, HL: c.locale})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("search network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Organic))
	for i, entry := range parsed.Organic {
		if entry.Title == "" || entry.Link == "" || entry.Snippet == "" {
			continue
		}
		position := entry.Position
		if position == 0 {
			position = i + 1
		}
		results = append(results, Result{
			Title:    truncate(entry.Title, maxTitleLength),
			Link:     entry.Link,
			Snippet:  truncate(entry.Snippet, maxSnippetLength),
			Position: position,
		})
		if len(results) == maxResults {
			break
		}
	}
	return results, nil
}

func (c *Client) statusError(resp *http.Response) error {
	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && len(raw) > 0 {
		var parsed struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
			message = parsed.Message
		} else if len(raw) < 200 {
			message = string(raw)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return errors.New("authentication error: invalid Serper API key")
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.New("quota error: Serper API rate limit exceeded")
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("bad request: %s", message)
	case resp.StatusCode >= http.StatusInternalServerError:
		return errors.New("Serper server error, try again later")
	}
	return fmt.Errorf("serper API error: %s", message)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
