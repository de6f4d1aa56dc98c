package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
	"github.com/ftdcad/roofiq-learn-loop/pkg/anthropic"
)

const (
	defaultVisionModel     = "claude-sonnet-4-5-20250929"
	defaultVisionMaxTokens = 4096
)

const visionSystemPrompt = `You are a roof measurement analyst. Given an aerial or satellite image of a
single building (or, without an image, only its address), estimate the roof geometry.

Respond with ONLY a JSON object of this shape:
{
  "totalArea": number,              // roof surface area in square feet, > 0
  "confidence": number,             // 0.0-1.0
  "facets": [
    {
      "id": string,
      "polygon": [{"x": number, "y": number}],
      "area": number,               // square feet, > 0
      "pitch": "rise/12",           // e.g. "6/12"
      "type": "main" | "wing" | "addition" | "garage" | "dormer",
      "confidence": number
    }
  ],
  "measurements": {
    "ridges": number, "valleys": number, "hips": number, "rakes": number,
    "eaves": number, "gutters": number, "stepFlashing": number, "dripEdge": number
  },                                // linear feet
  "propertyDetails": {"complexityScore": number, "stories": number, "roofMaterial": string},
  "reportSummary": string
}`

// VisionOption configures a VisionClient.
type VisionOption func(*VisionClient)

// WithModel overrides the default model.
func WithModel(m string) VisionOption {
	return func(c *VisionClient) {
		if m != "" {
			c.model = m
		}
	}
}

// WithMaxTokens overrides the response token cap.
func WithMaxTokens(n int64) VisionOption {
	return func(c *VisionClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithVisionRetry overrides the retry policy.
func WithVisionRetry(p resilience.RetryPolicy) VisionOption {
	return func(c *VisionClient) {
		c.retry = p
	}
}

// WithVisionBreaker overrides the circuit breaker.
func WithVisionBreaker(b *resilience.Breaker) VisionOption {
	return func(c *VisionClient) {
		c.breaker = b
	}
}

// VisionClient asks an Anthropic vision model to measure a roof. It
// implements estimate.ImageBackend.
type VisionClient struct {
	guarded
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewVisionClient creates a VisionClient on top of an Anthropic client.
func NewVisionClient(client anthropic.Client, opts ...VisionOption) *VisionClient {
	c := &VisionClient{
		guarded:   newGuarded(estimate.ImageBackendName),
		client:    client,
		model:     defaultVisionModel,
		maxTokens: defaultVisionMaxTokens,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AnalyzeImage sends the image and capture context to the model and decodes
// its JSON answer. Failures are *model.BackendError.
func (c *VisionClient) AnalyzeImage(ctx context.Context, req estimate.ImageRequest) (*estimate.Response, error) {
	msg, err := visionMessage(req)
	if err != nil {
		return nil, c.fail(model.BackendErrRequest, err)
	}

	text, err := c.call(ctx, "analyze_image", func(ctx context.Context) ([]byte, error) {
		resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: c.maxTokens,
			System:    anthropic.CachedSystem(visionSystemPrompt),
			Messages:  []anthropic.Message{msg},
		})
		if err != nil {
			return nil, c.classify(err)
		}
		resp.Usage.LogCost(c.model, "vision_analysis")
		return []byte(resp.Text()), nil
	})
	if err != nil {
		return nil, err
	}

	var out estimate.Response
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(string(text))), &out); err != nil {
		return nil, c.fail(model.BackendErrParse, eris.Wrap(err, "backend: decode vision response"))
	}
	if out.ModelVersion == "" {
		out.ModelVersion = c.model
	}

	zap.L().Debug("backend: vision analysis complete",
		zap.String("address", req.Address),
		zap.Bool("image", len(req.ImageData) > 0),
		zap.Int("facets", len(out.Facets)),
	)
	return &out, nil
}

// classify maps an SDK failure onto a BackendError, marking retryable
// statuses transient.
func (c *VisionClient) classify(err error) error {
	code, ok := anthropic.StatusCode(err)
	if !ok {
		return c.fail(model.BackendErrRequest, err)
	}
	if resilience.IsTransientStatus(code) || code == 529 {
		return c.fail(model.BackendErrStatus, resilience.NewTransientError(err, code))
	}
	return c.fail(model.BackendErrStatus, err)
}

func (c *VisionClient) fail(kind model.BackendErrorKind, err error) error {
	return model.NewBackendError(estimate.ImageBackendName, kind, err)
}

// supportedImageTypes are the media types the Messages API accepts.
var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

func visionMessage(req estimate.ImageRequest) (anthropic.Message, error) {
	captureCtx, err := json.Marshal(req.Context)
	if err != nil {
		return anthropic.Message{}, eris.Wrap(err, "backend: marshal capture context")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Address: %s\n", req.Address)
	fmt.Fprintf(&b, "Capture context: %s\n", captureCtx)

	msg := anthropic.Message{Role: "user"}
	if len(req.ImageData) == 0 {
		b.WriteString("No image is available. Estimate from the address and typical construction for the area.")
		msg.Content = b.String()
		return msg, nil
	}

	mediaType := http.DetectContentType(req.ImageData)
	if !supportedImageTypes[mediaType] {
		return anthropic.Message{}, eris.Errorf("backend: unsupported image type %q", mediaType)
	}
	b.WriteString("Measure the roof of the building at the center of the image.")
	msg.Content = b.String()
	msg.Images = []anthropic.Image{{MediaType: mediaType, Data: req.ImageData}}
	return msg, nil
}
