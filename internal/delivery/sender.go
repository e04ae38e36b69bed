// Package delivery moves captured frames from the agent to the ingestion
// endpoint with bounded memory and bounded retry.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
)

const maxResponseBytes = 1 << 20

// Sender posts one encoded FramePayload body.
type Sender interface {
	Send(ctx context.Context, body []byte) (dto.FrameResponse, error)
}

// StatusError is a non-2xx answer from the ingestion endpoint.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("frame rejected (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("frame rejected (status %d): %s", e.StatusCode, e.Message)
}

// Permanent reports whether re-sending the same frame would fail identically.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound, http.StatusRequestEntityTooLarge:
		return true
	default:
		return false
	}
}

// IsPermanent reports whether err is a permanent rejection.
func IsPermanent(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Permanent()
}

// HTTPSenderConfig configures the HTTP sender.
type HTTPSenderConfig struct {
	Endpoint string
	// SessionsEndpoint defaults to Endpoint with its trailing /frame replaced
	// by /sessions.
	SessionsEndpoint string
	Token            string
	Timeout          time.Duration
	HTTPClient       *http.Client
}

// HTTPSender posts frames to POST /frame with a bearer token.
type HTTPSender struct {
	endpoint string
	sessions string
	token    string
	http     *http.Client
}

// NewHTTPSender builds an HTTP sender.
func NewHTTPSender(cfg HTTPSenderConfig) (*HTTPSender, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("frame endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	sessions := strings.TrimRight(strings.TrimSpace(cfg.SessionsEndpoint), "/")
	if sessions == "" && strings.HasSuffix(strings.TrimRight(endpoint, "/"), "/frame") {
		sessions = strings.TrimSuffix(strings.TrimRight(endpoint, "/"), "/frame") + "/sessions"
	}

	return &HTTPSender{endpoint: endpoint, sessions: sessions, token: cfg.Token, http: client}, nil
}

// SessionState fetches GET /sessions/:id, which carries the next sequence
// number the server expects.
func (s *HTTPSender) SessionState(ctx context.Context, sessionID string) (dto.SessionStateResponse, error) {
	if s.sessions == "" {
		return dto.SessionStateResponse{}, errors.New("sessions endpoint is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sessions+"/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return dto.SessionStateResponse{}, err
	}
	raw, status, err := s.do(req)
	if err != nil {
		return dto.SessionStateResponse{}, err
	}
	if status < 200 || status > 299 {
		return dto.SessionStateResponse{}, decodeStatusError(status, raw)
	}

	var envelope struct {
		Data dto.SessionStateResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return dto.SessionStateResponse{}, fmt.Errorf("decode session state: %w", err)
	}
	return envelope.Data, nil
}

// Send posts body and decodes the scored response. A 2xx answer that cannot
// be decoded is returned as an error so the frame is retried.
func (s *HTTPSender) Send(ctx context.Context, body []byte) (dto.FrameResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return dto.FrameResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, status, err := s.do(req)
	if err != nil {
		return dto.FrameResponse{}, err
	}
	if status < 200 || status > 299 {
		return dto.FrameResponse{}, decodeStatusError(status, raw)
	}

	var out dto.FrameResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return dto.FrameResponse{}, fmt.Errorf("decode frame response: %w", err)
	}
	return out, nil
}

func (s *HTTPSender) do(req *http.Request) ([]byte, int, error) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, err
	}
	return raw, resp.StatusCode, nil
}

func decodeStatusError(status int, raw []byte) error {
	var envelope struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	statusErr := &StatusError{StatusCode: status, Message: http.StatusText(status)}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		statusErr.Code = envelope.Error
		if envelope.Message != "" {
			statusErr.Message = envelope.Message
		}
	}
	return statusErr
}
