package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ftdcad/roofiq-learn-loop/internal/estimate"
	"github.com/ftdcad/roofiq-learn-loop/internal/model"
	"github.com/ftdcad/roofiq-learn-loop/internal/resilience"
)

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 512

// StructuralOption configures a StructuralClient.
type StructuralOption func(*StructuralClient)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) StructuralOption {
	return func(c *StructuralClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) StructuralOption {
	return func(c *StructuralClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithStructuralRetry overrides the retry policy.
func WithStructuralRetry(p resilience.RetryPolicy) StructuralOption {
	return func(c *StructuralClient) {
		c.retry = p
	}
}

// WithStructuralBreaker overrides the circuit breaker.
func WithStructuralBreaker(b *resilience.Breaker) StructuralOption {
	return func(c *StructuralClient) {
		c.breaker = b
	}
}

// StructuralClient calls the structural-analysis service over HTTP. It
// implements estimate.StructuralBackend.
type StructuralClient struct {
	guarded
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewStructuralClient creates a client for the service at baseURL.
func NewStructuralClient(baseURL, apiKey string, opts ...StructuralOption) *StructuralClient {
	c := &StructuralClient{
		guarded: newGuarded(estimate.StructuralBackendName),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(5), 5),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AnalyzeStructure posts the request to {base}/analyze and decodes the
// response. Failures are *model.BackendError.
func (c *StructuralClient) AnalyzeStructure(ctx context.Context, req estimate.StructuralRequest) (*estimate.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, c.fail(model.BackendErrRequest, eris.Wrap(err, "backend: marshal structural request"))
	}

	body, err := c.call(ctx, "analyze", func(ctx context.Context) ([]byte, error) {
		return c.post(ctx, payload)
	})
	if err != nil {
		return nil, err
	}

	var resp estimate.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.fail(model.BackendErrParse, eris.Wrap(err, "backend: decode structural response"))
	}

	zap.L().Debug("backend: structural analysis complete",
		zap.String("address", req.Address),
		zap.Int("facets", len(resp.Facets)),
		zap.String("model_version", resp.ModelVersion),
	)
	return &resp, nil
}

func (c *StructuralClient) post(ctx context.Context, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail(model.BackendErrRequest, eris.Wrap(err, "backend: rate limit wait"))
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, c.fail(model.BackendErrRequest, eris.Wrap(err, "backend: create structural request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.fail(model.BackendErrRequest, eris.Wrap(err, "backend: send structural request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.fail(model.BackendErrRequest, eris.Wrap(err, "backend: read structural response"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		statusErr := eris.Errorf("backend: structural status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, c.fail(model.BackendErrStatus, resilience.NewTransientError(statusErr, resp.StatusCode))
		}
		return nil, c.fail(model.BackendErrStatus, statusErr)
	}
	return body, nil
}

func (c *StructuralClient) fail(kind model.BackendErrorKind, err error) error {
	return model.NewBackendError(estimate.StructuralBackendName, kind, err)
}
