// Package mlscorer is the HTTP client for the external frame scoring service.
package mlscorer

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 1 << 20

var (
	scorerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proctor",
		Subsystem: "ml_scorer",
		Name:      "duration_seconds",
		Help:      "Duration of ML scorer inference calls",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
	})

	scorerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proctor",
		Subsystem: "ml_scorer",
		Name:      "failures_total",
		Help:      "Number of failed ML scorer calls by reason",
	}, []string{"reason"})
)

// Failure reasons reported by Error.
const (
	ReasonTimeout   = "timeout"
	ReasonTransport = "transport"
	ReasonStatus    = "status"
	ReasonMalformed = "malformed"
)

// Error describes why an inference call could not produce a usable result.
type Error struct {
	Reason     string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ml scorer %s (status %d): %v", e.Reason, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ml scorer %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// DeviceInfo mirrors the client device snapshot forwarded with each frame.
type DeviceInfo struct {
	Browser      string `json:"browser"`
	OS           string `json:"os"`
	DeviceType   string `json:"deviceType"`
	ScreenWidth  int    `json:"screenWidth"`
	ScreenHeight int    `json:"screenHeight"`
	NetworkRTTMs *int   `json:"networkRttMs,omitempty"`
}

// Request is the normalized body sent to POST /infer.
type Request struct {
	SessionID      string     `json:"sessionId"`
	SequenceNumber int64      `json:"sequenceNumber"`
	Timestamp      time.Time  `json:"timestamp"`
	Frame          string     `json:"frame"`
	DeviceInfo     DeviceInfo `json:"deviceInfo"`
}

// Alert severities accepted from the scorer.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Alert is one detection returned by the scorer.
type Alert struct {
	Code        string    `json:"code"`
	Severity    string    `json:"severity"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
	BBox        []float64 `json:"bbox,omitempty"`
}

// Response is the scorer result.
type Response struct {
	FocusScore *float64               `json:"focus_score"`
	Confidence *float64               `json:"confidence"`
	Alerts     []Alert                `json:"alerts"`
	Metrics    map[string]interface{} `json:"metrics"`
}

// Scorer scores a single frame.
type Scorer interface {
	Infer(ctx context.Context, req Request) (Response, error)
}

// Config defines the scorer client settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the scorer over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// New builds a scorer client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("ml scorer url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	return &Client{
		endpoint: base + "/infer",
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		http:     httpClient,
		tracer:   otel.Tracer("github.com/noah-isme/fairgig-proctor/pkg/mlscorer"),
		logger:   cfg.Logger.With().Str("component", "ml_scorer").Logger(),
	}, nil
}

// Infer posts the frame and returns the parsed result. Every failure is an *Error.
func (c *Client) Infer(parent context.Context, req Request) (Response, error) {
	ctx, span := c.tracer.Start(parent, "mlscorer.infer", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.Int64("sequence_number", req.SequenceNumber),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.do(ctx, req)
	scorerDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var scoreErr *Error
		if errors.As(err, &scoreErr) {
			scorerFailures.WithLabelValues(scoreErr.Reason).Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, err
	}

	span.SetAttributes(attribute.Int("alerts", len(resp.Alerts)))
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, &Error{Reason: ReasonMalformed, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, &Error{Reason: ReasonTransport, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, &Error{Reason: ReasonTimeout, Err: err}
		}
		return Response{}, &Error{Reason: ReasonTransport, Err: err}
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Response{}, &Error{Reason: ReasonTimeout, Err: err}
		}
		return Response{}, &Error{Reason: ReasonTransport, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return Response{}, &Error{
			Reason:     ReasonStatus,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(payload))),
		}
	}

	var result Response
	if err := json.Unmarshal(payload, &result); err != nil {
		return Response{}, &Error{Reason: ReasonMalformed, Err: err}
	}
	if err := result.validate(); err != nil {
		return Response{}, &Error{Reason: ReasonMalformed, Err: err}
	}

	return result, nil
}

// validate checks ranges and lowercases alert severities in place.
func (r *Response) validate() error {
	if r.FocusScore == nil || *r.FocusScore < 0 || *r.FocusScore > 1 {
		return fmt.Errorf("focus_score missing or out of range")
	}
	if r.Confidence == nil || *r.Confidence < 0 || *r.Confidence > 1 {
		return fmt.Errorf("confidence missing or out of range")
	}
	for i, alert := range r.Alerts {
		if strings.TrimSpace(alert.Code) == "" {
			return fmt.Errorf("alert %d has no code", i)
		}
		severity := strings.ToLower(strings.TrimSpace(alert.Severity))
		switch severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
			r.Alerts[i].Severity = severity
		default:
			return fmt.Errorf("alert %d has unknown severity %q", i, alert.Severity)
		}
	}
	return nil
}
