// Package client provides the HTTP client for the generative image API
// (Gemini generateContent). Every failure leaves this package classified as an
// apierror.Error so that callers never inspect messages.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
	"github.com/Sternrassler/studio-engine/pkg/logging"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// Prometheus metrics for remote API operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_api_requests_total",
		Help: "Total generative API requests by operation and status",
	}, []string{"operation", "status"})

	apiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "studio_api_request_duration_seconds",
		Help:    "Generative API request duration in seconds by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"operation"})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studio_api_errors_total",
		Help: "Total generative API errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API (default: https://generativelanguage.googleapis.com).
	BaseURL string

	// APIVersion path segment (default: v1beta).
	APIVersion string

	// ImageModel generates photos.
	ImageModel string

	// TextModel generates scenarios and studio descriptions.
	TextModel string

	// HTTPClient overrides the transport (for testing).
	HTTPClient *http.Client

	// Timeout bounds a single HTTP request.
	Timeout time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://generativelanguage.googleapis.com",
		APIVersion: "v1beta",
		ImageModel: "gemini-2.5-flash-image",
		TextModel:  "gemini-2.5-flash",
		Timeout:    120 * time.Second,
	}
}

// Client calls the generative API. It holds no credential: the secret is
// passed per call so the credential pool can choose it.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	d := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = d.BaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = d.APIVersion
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = d.ImageModel
	}
	if cfg.TextModel == "" {
		cfg.TextModel = d.TextModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logging.NewLogger(logging.ComponentClient),
	}, nil
}

// GenerateImage renders req into one image.
func (c *Client) GenerateImage(ctx context.Context, secret string, req studio.Request) (Image, error) {
	parts := []part{{Text: req.Prompt()}}
	for _, ref := range req.References {
		parts = append(parts, part{Text: ref.Label()}, part{InlineData: &blob{MimeType: mimeOrDefault(ref.MimeType), Data: ref.Data}})
	}
	if req.LocationReference != nil {
		parts = append(parts,
			part{Text: "Location reference photo:"},
			part{InlineData: &blob{MimeType: mimeOrDefault(req.LocationReference.MimeType), Data: req.LocationReference.Data}})
	}

	return c.generateImage(ctx, secret, parts, string(req.AspectRatio))
}

// Regenerate renders a free-form prompt with optional reference images.
func (c *Client) Regenerate(ctx context.Context, secret, prompt string, refs []studio.Reference) (Image, error) {
	parts := []part{{Text: prompt}}
	for _, ref := range refs {
		parts = append(parts, part{InlineData: &blob{MimeType: mimeOrDefault(ref.MimeType), Data: ref.Data}})
	}
	return c.generateImage(ctx, secret, parts, "")
}

func (c *Client) generateImage(ctx context.Context, secret string, parts []part, aspectRatio string) (Image, error) {
	gc := &generationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}}
	if aspectRatio != "" {
		gc.ImageConfig = &imageConfig{AspectRatio: aspectRatio}
	}

	resp, err := c.generateContent(ctx, "generate_image", secret, c.config.ImageModel, generateContentRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: gc,
	})
	if err != nil {
		return Image{}, err
	}

	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return Image{}, apierror.Wrap(apierror.ClassTransient, err, "decode image data")
			}
			return Image{MimeType: mimeOrDefault(p.InlineData.MimeType), Data: data}, nil
		}
	}

	apiErrorsTotal.WithLabelValues(string(apierror.ClassTransient)).Inc()
	return Image{}, apierror.New(apierror.ClassTransient, http.StatusOK, "response contained no image")
}

// GenerateText returns the text answer to prompt.
func (c *Client) GenerateText(ctx context.Context, secret, prompt string) (string, error) {
	resp, err := c.generateContent(ctx, "generate_text", secret, c.config.TextModel, generateContentRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", apierror.New(apierror.ClassTransient, http.StatusOK, "response contained no text")
	}
	return text, nil
}

// Validate checks secret with a cheap model listing call.
func (c *Client) Validate(ctx context.Context, secret string) error {
	endpoint := fmt.Sprintf("%s/%s/models?pageSize=1", c.config.BaseURL, c.config.APIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apierror.Wrap(apierror.ClassTransient, err, "create request")
	}
	req.Header.Set("x-goog-api-key", secret)

	_, err = c.do(req, "validate")
	return err
}

func (c *Client) generateContent(ctx context.Context, operation, secret, model string, payload generateContentRequest) (generateContentResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return generateContentResponse{}, apierror.Wrap(apierror.ClassTransient, err, "marshal request")
	}

	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", c.config.BaseURL, c.config.APIVersion, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return generateContentResponse{}, apierror.Wrap(apierror.ClassTransient, err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", secret)

	raw, err := c.do(req, operation)
	if err != nil {
		return generateContentResponse{}, err
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		apiErrorsTotal.WithLabelValues(string(apierror.ClassTransient)).Inc()
		return generateContentResponse{}, apierror.Wrap(apierror.ClassTransient, err, "decode response")
	}
	if apiErr := classifyContent(decoded); apiErr != nil {
		apiErrorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		c.logger.Warn().
			Str("operation", operation).
			Str(logging.FieldErrorClass, string(apiErr.Class)).
			Msg(apiErr.Message)
		return generateContentResponse{}, apiErr
	}
	return decoded, nil
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request, operation string) ([]byte, error) {
	start := time.Now()
	defer func() {
		apiRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	c.logger.Debug().Str("operation", operation).Str("path", req.URL.Path).Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiRequestsTotal.WithLabelValues(operation, "network_error").Inc()
		apiErrorsTotal.WithLabelValues(string(apierror.ClassTransient)).Inc()
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Error().Err(err).Str("operation", operation).Msg("HTTP request failed")
		return nil, apierror.Wrap(apierror.ClassTransient, err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		apiRequestsTotal.WithLabelValues(operation, "read_error").Inc()
		return nil, apierror.Wrap(apierror.ClassTransient, err, "read response")
	}
	apiRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 300 {
		apiErr := classifyResponse(resp.StatusCode, raw)
		apiErrorsTotal.WithLabelValues(string(apiErr.Class)).Inc()
		c.logger.Warn().
			Str("operation", operation).
			Int("status_code", resp.StatusCode).
			Str(logging.FieldErrorClass, string(apiErr.Class)).
			Msg("API request error")
		return nil, apiErr
	}
	return raw, nil
}

func mimeOrDefault(mime string) string {
	if mime == "" {
		return "image/jpeg"
	}
	return mime
}
