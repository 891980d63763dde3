// Package textanalyzer is a client for the NLP service performing entity
// and sentiment detection over message text.
package textanalyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/makit/aws-serverless-twitter-bot/pkg/events"
)

type APIError struct {
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("text analyzer returned status: %d", e.StatusCode)
}

type Client struct {
	baseURL string
	client  *http.Client
}

type Option func(*Client)

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
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

type analyzeRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
}

func (c *Client) post(ctx context.Context, path string, text string, out interface{}) error {
	body, err := json.Marshal(analyzeRequest{Text: text, LanguageCode: "en"})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return &APIError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// DetectEntities extracts named entities from the text.
func (c *Client) DetectEntities(ctx context.Context, text string) ([]events.Entity, error) {
	var result struct {
		Entities []events.Entity `json:"entities"`
	}
	if err := c.post(ctx, "/v1/entities", text, &result); err != nil {
		return nil, err
	}
	return result.Entities, nil
}

// DetectSentiment classifies the overall sentiment of the text.
func (c *Client) DetectSentiment(ctx context.Context, text string) (string, error) {
	var result struct {
		Sentiment string `json:"sentiment"`
	}
	if err := c.post(ctx, "/v1/sentiment", text, &result); err != nil {
		return "", err
	}
	return result.Sentiment, nil
}
