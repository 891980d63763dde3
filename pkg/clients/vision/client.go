// Package vision is a client for the image recognition service: label
// detection, in-image text detection, and celebrity recognition.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
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
	return fmt.Sprintf("vision service returned status: %d", e.StatusCode)
}

type Client struct {
	baseURL string
	client  *http.Client
}

type Option func(*Client)

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
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

type detectRequest struct {
	ImageBase64 string `json:"image_base64"`
}

func (c *Client) post(ctx context.Context, path string, image []byte, out interface{}) error {
	body, err := json.Marshal(detectRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	})
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

// DetectLabels returns scene and object labels found in the image.
func (c *Client) DetectLabels(ctx context.Context, image []byte) ([]events.Label, error) {
	var result struct {
		Labels []events.Label `json:"labels"`
	}
	if err := c.post(ctx, "/v1/labels", image, &result); err != nil {
		return nil, err
	}
	return result.Labels, nil
}

// DetectText returns pieces of text found inside the image.
func (c *Client) DetectText(ctx context.Context, image []byte) ([]events.TextDetection, error) {
	var result struct {
		TextDetections []events.TextDetection `json:"text_detections"`
	}
	if err := c.post(ctx, "/v1/text", image, &result); err != nil {
		return nil, err
	}
	return result.TextDetections, nil
}

// CelebrityResult separates faces recognised as known people from the rest.
type CelebrityResult struct {
	CelebrityFaces    []events.FaceMatch `json:"celebrity_faces"`
	UnrecognizedFaces []events.Face      `json:"unrecognized_faces"`
}

// RecognizeCelebrities returns recognised and unrecognised faces in the image.
func (c *Client) RecognizeCelebrities(ctx context.Context, image []byte) (*CelebrityResult, error) {
	var result CelebrityResult
	if err := c.post(ctx, "/v1/celebrities", image, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
