// Package gateway wraps every call to the bills REST API: it stamps the
// access credential, maps failures onto the core error taxonomy and
// performs the one-shot renew-and-retry on authorization failure.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"billtrack/internal/core"
	"billtrack/internal/log"
)

// Authenticator supplies the access credential and renews it on demand.
// Renew is told which credential the server rejected so that a renewal
// already completed by another caller is reused.
type Authenticator interface {
	AccessToken() string
	Renew(ctx context.Context, rejected string) (string, error)
}

// Doer is the call surface consumed by the session, bill cache and chat.
type Doer interface {
	Do(ctx context.Context, req Request, out any) error
}

// Request describes one logical API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// NoAuth skips credential stamping and renewal (login, refresh, register).
	NoAuth bool
	// Timeout overrides the client default for each attempt.
	Timeout time.Duration
}

// Client is the RequestGateway.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	auth    Authenticator
	timeout time.Duration
	logger  *log.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the default per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentGateway) }
}

// New creates a gateway for baseURL. auth may be nil for a client that only
// issues unauthenticated calls.
func New(baseURL string, auth Authenticator, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		baseURL: u,
		http:    http.DefaultClient,
		auth:    auth,
		timeout: 30 * time.Second,
		logger:  log.Discard().WithComponent(log.ComponentGateway),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do performs req and decodes a JSON response into out (which may be nil).
//
// An authorization failure on the first attempt triggers one renewal. On
// success the request is replayed exactly once with the new credential; a
// second authorization failure is returned as is. When renewal fails the
// original authorization error is returned, joined with the renewal error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := encodeBody(req.Body)
	if err != nil {
		return fmt.Errorf("%s %s: encode body: %w", req.Method, req.Path, err)
	}

	useAuth := c.auth != nil && !req.NoAuth
	token := ""
	if useAuth {
		token = c.auth.AccessToken()
	}

	err = c.attempt(ctx, req, body, token, 1, out)
	if err == nil || !useAuth || !errors.Is(err, core.ErrUnauthorized) {
		return err
	}

	// A renewal that finished while this request was in flight already
	// produced a fresher credential: replay with it instead of renewing again.
	next := c.auth.AccessToken()
	if next == "" || next == token {
		renewed, rerr := c.auth.Renew(ctx, token)
		if rerr != nil {
			c.logger.WarnContext(ctx, "Credential renewal failed, giving up request",
				log.FieldMethod, req.Method, log.FieldPath, req.Path, log.FieldError, rerr)
			return errors.Join(err, rerr)
		}
		next = renewed
	}

	c.logger.DebugContext(ctx, "Replaying request with renewed credential",
		log.FieldMethod, req.Method, log.FieldPath, req.Path)
	return c.attempt(ctx, req, body, next, 2, out)
}

func (c *Client) attempt(ctx context.Context, req Request, body []byte, token string, n int, out any) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	op := req.Method + " " + req.Path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.endpoint(req), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &core.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.NetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.DebugContext(ctx, "API call completed",
		log.FieldMethod, req.Method, log.FieldPath, req.Path,
		log.FieldStatusCode, resp.StatusCode, log.FieldAttempt, n)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classify(resp.StatusCode, payload)
	}

	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &core.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) endpoint(req Request) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + req.Path
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

// classify maps a non-2xx response onto the error taxonomy.
func classify(code int, payload []byte) error {
	var obj map[string]json.RawMessage
	_ = json.Unmarshal(payload, &obj)

	message := firstString(obj, "detail", "error", "message")

	if code == http.StatusBadRequest {
		fields := map[string][]string{}
		for key, raw := range obj {
			switch key {
			case "detail", "error", "message", "status":
				continue
			case "non_field_errors":
				if message == "" {
					message = strings.Join(stringsOf(raw), " ")
				}
				continue
			}
			if msgs := stringsOf(raw); len(msgs) > 0 {
				fields[key] = msgs
			}
		}
		if len(fields) == 0 {
			fields = nil
		}
		return &core.ValidationError{Fields: fields, Message: message}
	}

	return &core.StatusError{Code: code, Message: message}
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		if msgs := stringsOf(raw); len(msgs) > 0 {
			return strings.Join(msgs, " ")
		}
	}
	return ""
}

// stringsOf accepts a string, a list of strings or a nested object of those.
func stringsOf(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		var out []string
		for _, item := range list {
			out = append(out, stringsOf(item)...)
		}
		return out
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		keys := make([]string, 0, len(nested))
		for k := range nested {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, stringsOf(nested[k])...)
		}
		return out
	}
	return nil
}
