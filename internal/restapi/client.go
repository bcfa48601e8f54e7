// Package restapi is the host's client for the live stream REST endpoints.
package restapi

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
	"go.uber.org/zap"

	"github.com/aura-webinar/livehost/internal/callbridge"
	"github.com/aura-webinar/livehost/internal/models"
)

// Error is a non-success response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("restapi: status %d", e.Status)
	}
	return fmt.Sprintf("restapi: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an *Error with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client calls the stream service as one authenticated host.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New builds a client for baseURL (e.g. http://localhost:8080/api/v1).
func New(baseURL, token string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:  u,
		token: token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

// StartStreamRequest opens a broadcast.
type StartStreamRequest struct {
	Kind  models.CallKind `json:"kind"`
	Title string          `json:"title,omitempty"`
}

// StartStream creates a live stream and returns it with host credentials.
func (c *Client) StartStream(ctx context.Context, req StartStreamRequest) (models.StreamSession, error) {
	var s models.StreamSession
	err := c.do(ctx, http.MethodPost, "/streams", req, &s)
	return s, err
}

// EndStream marks the stream ended.
func (c *Client) EndStream(ctx context.Context, streamID string) error {
	return c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(streamID)+"/end", nil, nil)
}

// UpdateMedia persists the host's mic and camera flags.
func (c *Client) UpdateMedia(ctx context.Context, streamID string, state models.MediaState) error {
	return c.do(ctx, http.MethodPatch, "/streams/"+url.PathEscape(streamID)+"/media", state, nil)
}

type acceptBody struct {
	CallType string `json:"callType"`
	CallMode string `json:"callMode"`
}

type acceptResponse struct {
	CallerTransportID string `json:"callerTransportId,omitempty"`
}

// AcceptCall accepts a queued request. The caller transport id may be empty.
func (c *Client) AcceptCall(ctx context.Context, streamID string, req models.CallRequest) (callbridge.AcceptResult, error) {
	var out acceptResponse
	err := c.do(ctx, http.MethodPost, c.callPath(streamID, req.UserID, "accept"),
		acceptBody{CallType: string(req.Kind), CallMode: string(req.Visibility)}, &out)
	return callbridge.AcceptResult{CallerTransportID: out.CallerTransportID}, err
}

// RejectCall declines a queued request.
func (c *Client) RejectCall(ctx context.Context, streamID, userID string) error {
	return c.do(ctx, http.MethodPost, c.callPath(streamID, userID, "reject"), nil, nil)
}

type endCallBody struct {
	UserID   string `json:"userId"`
	Duration int    `json:"duration"`
	Charge   int64  `json:"charge"`
	Reason   string `json:"reason"`
}

type endCallResponse struct {
	Charge int64 `json:"charge"`
}

// EndCall settles the current call; the server's charge is authoritative.
func (c *Client) EndCall(ctx context.Context, streamID string, s models.CallSummary) (callbridge.EndResult, error) {
	var out endCallResponse
	err := c.do(ctx, http.MethodPost, "/streams/"+url.PathEscape(streamID)+"/calls/end",
		endCallBody{UserID: s.UserID, Duration: s.Duration, Charge: s.Charge, Reason: string(s.Reason)}, &out)
	return callbridge.EndResult{Charge: out.Charge}, err
}

func (c *Client) callPath(streamID, userID, action string) string {
	return "/streams/" + url.PathEscape(streamID) + "/calls/" + url.PathEscape(userID) + "/" + action
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("rest call", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("latency", time.Since(start)))

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	if resp.StatusCode >= 300 || (len(raw) > 0 && !env.Success) {
		return &Error{Status: resp.StatusCode, Message: env.Error}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode %s %s data: %w", method, path, err)
		}
	}
	return nil
}
