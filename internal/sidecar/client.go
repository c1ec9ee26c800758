// Package sidecar implements the HTTP client for the object-detection
// sidecar (/detect, /health, /classes).
package sidecar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lauritssn/yolo-llm-vision/internal/coco"
)

const (
	detectTimeout = 30 * time.Second
	probeTimeout  = 5 * time.Second
)

// DetectRequest is the wire body of POST /detect.
type DetectRequest struct {
	ImageBase64         string   `json:"image_base64,omitempty"`
	ImageURL            string   `json:"image_url,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	Classes             []string `json:"classes,omitempty"`
	DrawBoxes           bool     `json:"draw_boxes"`
}

// DetectResponse is the wire body of a successful POST /detect.
type DetectResponse struct {
	Detected             bool             `json:"detected"`
	DetectionCount       int              `json:"detection_count"`
	ClassesDetected      []string         `json:"classes_detected"`
	ConfidenceMax        float64          `json:"confidence_max"`
	ConfidenceAvg        float64          `json:"confidence_avg"`
	Detections           []coco.Detection `json:"detections"`
	InferenceTimeMs      float64          `json:"inference_time_ms"`
	AnnotatedImageBase64 string           `json:"annotated_image_base64,omitempty"`
}

// AnnotatedImage decodes the rendered image, if any.
func (r *DetectResponse) AnnotatedImage() ([]byte, error) {
	if r.AnnotatedImageBase64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(r.AnnotatedImageBase64)
}

// HealthInfo is the body of GET /health.
type HealthInfo struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// StatusError is a non-2xx sidecar response. The message always carries the
// status code plus the upstream detail (or raw body) so callers can surface
// both.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sidecar error (%d): %s", e.Code, e.Detail)
}

// DetectParams are the per-analysis detection parameters.
type DetectParams struct {
	Threshold float64
	Classes   []string
	DrawBoxes bool
}

// Client talks to one sidecar instance.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: detectTimeout},
		log:     log.With().Str("component", "sidecar").Logger(),
	}
}

// Detect submits an image for detection. The class/threshold filter is
// re-applied locally and the aggregates recomputed, since older sidecar
// builds ignore the classes field.
func (c *Client) Detect(ctx context.Context, image []byte, params DetectParams) (*DetectResponse, error) {
	req := DetectRequest{
		ImageBase64:         base64.StdEncoding.EncodeToString(image),
		ConfidenceThreshold: &params.Threshold,
		Classes:             params.Classes,
		DrawBoxes:           params.DrawBoxes,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode detect request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Debug().
		Int("image_bytes", len(image)).
		Float64("threshold", params.Threshold).
		Strs("classes", params.Classes).
		Bool("draw_boxes", params.DrawBoxes).
		Msg("detect request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sidecar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, readStatusError(resp)
	}

	var result DetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}

	c.refilter(&result, params)

	c.log.Debug().
		Int("count", result.DetectionCount).
		Strs("classes", result.ClassesDetected).
		Float64("confidence_max", result.ConfidenceMax).
		Float64("inference_ms", result.InferenceTimeMs).
		Msg("detect response")

	return &result, nil
}

// refilter applies the requested filter to the returned detections and
// recomputes the aggregate fields over the accepted set.
func (c *Client) refilter(result *DetectResponse, params DetectParams) {
	allowed := coco.ResolveIDs(params.Classes, c.log)
	accepted := coco.Filter(result.Detections, params.Threshold, allowed)
	if len(accepted) == len(result.Detections) {
		return
	}

	agg := coco.Aggregate(accepted)
	result.Detections = accepted
	result.Detected = agg.Detected
	result.DetectionCount = agg.Count
	result.ClassesDetected = agg.Classes
	result.ConfidenceMax = agg.ConfidenceMax
	result.ConfidenceAvg = agg.ConfidenceAvg
}

// Health probes GET /health with a short deadline.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var info HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &info, nil
}

// Classes fetches the sidecar's full class vocabulary.
func (c *Client) Classes(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/classes", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar classes request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readStatusError(resp)
	}

	var body struct {
		Classes []string `json:"classes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode classes response: %w", err)
	}
	return body.Classes, nil
}

func readStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	detail := strings.TrimSpace(string(raw))
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		detail = body.Detail
	}
	if detail == "" {
		detail = "HTTP " + resp.Status
	}
	return &StatusError{Code: resp.StatusCode, Detail: detail}
}
