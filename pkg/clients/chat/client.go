// Package chat is a client for the conversational bot service that turns a
// user utterance into a reply, keeping per-user session state server-side.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat service returned status: %d", e.StatusCode)
}

type Client struct {
	baseURL string
	botName string
	client  *http.Client
}

type Option func(*Client)

func NewClient(baseURL, botName string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		botName: botName,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

type recognizeRequest struct {
	Text string `json:"text"`
}

// RecognizeText sends the utterance to the bot under the given session and
// returns the bot's reply messages joined into one string.
func (c *Client) RecognizeText(ctx context.Context, sessionID, text string) (string, error) {
	reqURL := fmt.Sprintf("%s/v1/bots/%s/sessions/%s/text",
		c.baseURL, url.PathEscape(c.botName), url.PathEscape(sessionID))

	body, err := json.Marshal(recognizeRequest{Text: text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return "", &APIError{StatusCode: resp.StatusCode}
	}

	var result struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	parts := make([]string, 0, len(result.Messages))
	for _, m := range result.Messages {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, " "), nil
}
