package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/adscript/api/internal/config"
)

// ImageGenerator defines the inference operations used by image jobs
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
	Edit(ctx context.Context, prompt string, source []byte) ([]byte, error)
}

// InferenceClient implements ImageGenerator for the image inference service.
// At most MaxConcurrent calls are in flight per client.
type InferenceClient struct {
	httpClient *http.Client
	baseURL    string
	slots      *semaphore.Weighted
}

type generateImageRequest struct {
	Prompt string `json:"prompt"`
}

type editImageRequest struct {
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"image_base64"`
}

type imageResponse struct {
	Image string `json:"image"`
}

// NewInferenceClient creates a new inference service client
func NewInferenceClient(cfg *config.InferenceConfig) *InferenceClient {
	slots := cfg.MaxConcurrent
	if slots <= 0 {
		slots = 1
	}
	return &InferenceClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: strings.TrimRight(cfg.ServiceURL, "/"),
		slots:   semaphore.NewWeighted(int64(slots)),
	}
}

// Init probes the service once. An unreachable service is logged, not
// fatal: jobs fail individually until it comes up.
func (c *InferenceClient) Init(ctx context.Context) {
	if err := c.HealthCheck(ctx); err != nil {
		log.Printf("Warning: inference service not reachable at %s: %v", c.baseURL, err)
		return
	}
	log.Printf("Inference service reachable at %s", c.baseURL)
}

// Close releases idle connections
func (c *InferenceClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// Generate renders a new image from prompt
func (c *InferenceClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	var result imageResponse
	if err := c.post(ctx, "/generate_image", generateImageRequest{Prompt: prompt}, &result); err != nil {
		return nil, err
	}
	return decodeImage(result.Image)
}

// Edit renders a variation of source guided by prompt
func (c *InferenceClient) Edit(ctx context.Context, prompt string, source []byte) ([]byte, error) {
	req := editImageRequest{
		Prompt:      prompt,
		ImageBase64: base64.StdEncoding.EncodeToString(source),
	}
	var result imageResponse
	if err := c.post(ctx, "/edit_image", req, &result); err != nil {
		return nil, err
	}
	return decodeImage(result.Image)
}

// HealthCheck checks if the inference service is available
func (c *InferenceClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *InferenceClient) IsConfigured() bool {
	return c.baseURL != ""
}

func (c *InferenceClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	if err := c.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("inference slot not acquired: %w", err)
	}
	defer c.slots.Release(1)

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("inference service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

func decodeImage(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("inference service returned no image")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return data, nil
}
