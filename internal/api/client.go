// Package api is the typed client for the remote ride backend: auth, users,
// rides and ride history. Every failure is normalised into *Error,
// ErrConnectivity, ErrNoToken or *DecodeError at this boundary.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/observability"
)

// TokenSource yields the bearer token of the current session.
type TokenSource interface {
	Token(ctx context.Context) (string, bool)
}

type Config struct {
	BaseURL string
	// AuthBaseURL hosts /auth/login. Defaults to BaseURL.
	AuthBaseURL string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Client struct {
	baseURL    string
	authURL    string
	httpClient *http.Client
	logger     *slog.Logger
	validate   *validator.Validate

	// Tokens is set once the session manager exists; nil means anonymous.
	Tokens TokenSource
}

type authMode int

const (
	authNone authMode = iota
	authOptional
	authRequired
)

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("api: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("api: invalid BaseURL %q: %w", cfg.BaseURL, err)
	}
	authURL := cfg.AuthBaseURL
	if authURL == "" {
		authURL = cfg.BaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authURL:    strings.TrimRight(authURL, "/"),
		httpClient: hc,
		logger:     logging.Or(cfg.Logger),
		validate:   validator.New(),
	}, nil
}

func (c *Client) token(ctx context.Context) (string, bool) {
	if c.Tokens == nil {
		return "", false
	}
	return c.Tokens.Token(ctx)
}

// do performs one request. A nil out discards the body; an empty body is
// accepted for acks.
func (c *Client) do(ctx context.Context, op, method, base, path string, auth authMode, in, out any) error {
	start := time.Now()
	err := c.roundTrip(ctx, op, method, base+path, auth, in, out)
	observability.RemoteCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	observability.RemoteCallsTotal.WithLabelValues(op, outcome(err)).Inc()
	if err != nil {
		c.logger.Debug("remote call failed", "op", op, "error", err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, op, method, target string, auth authMode, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if auth != authNone {
		tok, ok := c.token(ctx)
		switch {
		case ok:
			req.Header.Set("Authorization", "Bearer "+tok)
		case auth == authRequired:
			return ErrNoToken
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &connectivityError{op: op, err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &connectivityError{op: op, err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Op: op, Status: resp.StatusCode, Message: errorMessage(resp, raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func errorMessage(resp *http.Response, raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return fmt.Sprintf("Erro %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// check validates a decoded response against its struct tags.
func (c *Client) check(op string, v any) error {
	if err := c.validate.Struct(v); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}

func outcome(err error) string {
	var apiErr *Error
	var decErr *DecodeError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &apiErr):
		return "http_error"
	case errors.As(err, &decErr):
		return "decode_error"
	case errors.Is(err, ErrNoToken):
		return "no_token"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "connectivity"
	}
}
