// Package veo is a small client for the Veo video generation API. It submits
// a long-running predict operation, polls it to completion, and returns the
// generated video bytes.
package veo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultPollInterval = 5 * time.Second

// Options controls how the client is configured.
type Options struct {
	APIKey       string
	BaseURL      string
	Model        string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

type Client struct {
	apiKey       string
	baseURL      string
	model        string
	httpClient   *http.Client
	pollInterval time.Duration
}

// NewClient constructs a client with sane defaults. The HTTP client carries
// no overall timeout; generation time is bounded by the caller's context.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "veo-3.1-generate-preview"
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		httpClient:   client,
		pollInterval: pollInterval,
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// APIError is a failure reported by the API, either as an HTTP error response
// or as an error on the completed operation.
type APIError struct {
	StatusCode int // HTTP status, 0 when the operation itself failed
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("veo api status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("veo operation failed (code %d): %s", e.Code, e.Message)
}

// GenerateRequest describes one video to generate. The source image is passed
// as raw bytes so the client works regardless of where the image is stored.
type GenerateRequest struct {
	Prompt          string
	ImageData       []byte
	ImageMIMEType   string
	DurationSeconds int
	Resolution      string
}

// Video is the generated result.
type Video struct {
	Data     []byte
	MIMEType string
	URI      string
}

type referenceImage struct {
	Image         imageData `json:"image"`
	ReferenceType string    `json:"referenceType"`
}

type imageData struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type predictInstance struct {
	Prompt          string           `json:"prompt"`
	ReferenceImages []referenceImage `json:"referenceImages,omitempty"`
}

type predictParameters struct {
	SampleCount     int    `json:"sampleCount,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
	GenerateAudio   bool   `json:"generateAudio"`
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type operationVideo struct {
	URI                string `json:"uri,omitempty"`
	BytesBase64Encoded string `json:"bytesBase64Encoded,omitempty"`
	MimeType           string `json:"mimeType,omitempty"`
}

type operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video operationVideo `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate submits the request and polls the operation until it completes or
// ctx is cancelled.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (*Video, error) {
	op, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}

	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		op, err = c.fetchOperation(ctx, op.Name)
		if err != nil {
			return nil, err
		}
	}

	if op.Error != nil {
		return nil, &APIError{Code: op.Error.Code, Message: op.Error.Message}
	}
	if op.Response == nil || len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 {
		return nil, fmt.Errorf("operation %s completed without video content", op.Name)
	}

	sample := op.Response.GenerateVideoResponse.GeneratedSamples[0].Video

	mimeType := sample.MimeType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	if sample.BytesBase64Encoded != "" {
		data, err := base64.StdEncoding.DecodeString(sample.BytesBase64Encoded)
		if err != nil {
			return nil, fmt.Errorf("decode inline video data: %w", err)
		}
		return &Video{Data: data, MIMEType: mimeType, URI: sample.URI}, nil
	}

	if sample.URI != "" {
		data, contentType, err := c.downloadFile(ctx, sample.URI)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			mimeType = contentType
		}
		return &Video{Data: data, MIMEType: mimeType, URI: sample.URI}, nil
	}

	return nil, fmt.Errorf("operation %s returned a sample without data or uri", op.Name)
}

func (c *Client) submit(ctx context.Context, req *GenerateRequest) (*operation, error) {
	payload := predictRequest{
		Instances: []predictInstance{{
			Prompt: req.Prompt,
			ReferenceImages: []referenceImage{{
				Image: imageData{
					BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.ImageData),
					MimeType:           req.ImageMIMEType,
				},
				ReferenceType: "asset",
			}},
		}},
		Parameters: predictParameters{
			SampleCount:     1,
			DurationSeconds: req.DurationSeconds,
			Resolution:      req.Resolution,
			GenerateAudio:   false,
		},
	}

	var op operation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.model))
	if err := c.invoke(ctx, http.MethodPost, path, payload, &op); err != nil {
		return nil, err
	}
	if op.Name == "" && !op.Done {
		return nil, fmt.Errorf("predict response carried no operation name")
	}
	return &op, nil
}

func (c *Client) fetchOperation(ctx context.Context, name string) (*operation, error) {
	var op operation
	if err := c.invoke(ctx, http.MethodGet, "/"+strings.TrimLeft(name, "/"), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

func (c *Client) invoke(ctx context.Context, method, path string, payload any, out any) error {
	endpoint := c.baseURL + path

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke veo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return &APIError{StatusCode: resp.StatusCode, Code: apiErr.Error.Code, Message: apiErr.Error.Message}
		}
		data, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode veo response: %w", err)
	}
	return nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create download request: %w", err)
	}
	if c.apiKey != "" {
		q := req.URL.Query()
		q.Set("key", c.apiKey)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, "", &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read video: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}
