package client

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	apperrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-subflow"
)

const (
	ErrCodeRemote    = "SUBFLOW_REMOTE_ERROR"
	ErrCodeTransport = "SUBFLOW_TRANSPORT_ERROR"
)

const (
	pathTasks     = "api/tasks"
	pathTemplates = "api/templates"
	pathSensors   = "api/sensors"
	pathActuators = "api/actuators"

	formatSimplified = "simplified"
	maxErrorBody     = 4 << 10
)

// Plugin is a primitive definition published by the rule engine.
type Plugin struct {
	Name          string   `json:"name"`
	Version       string   `json:"version"`
	Category      string   `json:"category,omitempty"`
	IconURL       string   `json:"iconURL,omitempty"`
	Description   string   `json:"description,omitempty"`
	Configuration any      `json:"configuration,omitempty"`
	States        []string `json:"states,omitempty"`
	Type          string   `json:"type,omitempty"`
}

// TemplateRef is one entry of the template listing.
type TemplateRef struct {
	Name string `json:"name"`
}

// Template is a stored template in simplified form.
type Template map[string]any

// Client talks to the rule engine REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	user   string
	secret string
	logger subflow.Logger

	retries int
	backoff RetryStrategy
}

var _ subflow.TaskCreator = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithBasicAuth authenticates with an API key and secret.
func WithBasicAuth(key, secret string) Option {
	return func(c *Client) {
		c.user = key
		c.secret = secret
	}
}

// WithRetry retries GET requests up to max extra times on transport errors
// and 5xx responses. Submissions are never retried.
func WithRetry(max int, strategy RetryStrategy) Option {
	return func(c *Client) {
		c.retries = max
		c.backoff = strategy
	}
}

// WithLogger sets the request logger.
func WithLogger(logger subflow.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New builds a client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: 30 * time.Second},
		backoff: NoDelay{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = subflow.NewFmtLogger(io.Discard)
	}
	if c.backoff == nil {
		c.backoff = NoDelay{}
	}
	return c, nil
}

// CreateTask posts a compiled task.
func (c *Client) CreateTask(ctx context.Context, payload subflow.TaskPayload) (*subflow.Handle, error) {
	return c.create(ctx, pathTasks, payload)
}

// CreateTemplate posts a compiled template.
func (c *Client) CreateTemplate(ctx context.Context, payload subflow.TemplatePayload) (*subflow.Handle, error) {
	return c.create(ctx, pathTemplates, payload)
}

func (c *Client) create(ctx context.Context, p string, payload any) (*subflow.Handle, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, p, nil, payload, &raw); err != nil {
		return nil, err
	}
	handle := &subflow.Handle{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, handle); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", p, err)
		}
	}
	return handle, nil
}

// ListSensors lists the sensor definitions.
func (c *Client) ListSensors(ctx context.Context) ([]Plugin, error) {
	var out []Plugin
	err := c.do(ctx, http.MethodGet, pathSensors, nil, nil, &out)
	return out, err
}

// ListActuators lists the actuator definitions.
func (c *Client) ListActuators(ctx context.Context) ([]Plugin, error) {
	var out []Plugin
	err := c.do(ctx, http.MethodGet, pathActuators, nil, nil, &out)
	return out, err
}

// GetSensor fetches one sensor version. An empty version returns the latest.
func (c *Client) GetSensor(ctx context.Context, name, version string) (Plugin, error) {
	p := path.Join(pathSensors, name)
	if version != "" {
		p = path.Join(p, "versions", version)
	}
	var out Plugin
	err := c.do(ctx, http.MethodGet, p, nil, nil, &out)
	return out, err
}

// ListTemplates lists stored templates; filter values become query parameters.
func (c *Client) ListTemplates(ctx context.Context, filter map[string]string) ([]TemplateRef, error) {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, v)
	}
	var out []TemplateRef
	err := c.do(ctx, http.MethodGet, pathTemplates, q, nil, &out)
	return out, err
}

// GetTemplate fetches a template in simplified form.
func (c *Client) GetTemplate(ctx context.Context, name string) (Template, error) {
	q := url.Values{"format": []string{formatSimplified}}
	var out Template
	err := c.do(ctx, http.MethodGet, path.Join(pathTemplates, name), q, nil, &out)
	return out, err
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + p
	u.RawPath = ""
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, p string, q url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", p, err)
		}
		payload = data
	}

	attempts := 1
	if method == http.MethodGet && c.retries > 0 {
		attempts += c.retries
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff.SleepDuration(attempt-1, err)
			c.logger.Debug("retrying %s %s in %s (attempt %d): %v", method, p, delay, attempt+1, err)
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
		}
		var retryable bool
		retryable, err = c.roundTrip(ctx, method, p, q, payload, out)
		if err == nil || !retryable {
			return err
		}
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, p string, q url.Values, payload []byte, out any) (bool, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	endpoint := c.endpoint(p, q)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.user != "":
		req.SetBasicAuth(c.user, c.secret)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, apperrors.Wrap(err, apperrors.CategoryExternal, "rule engine request failed").
			WithTextCode(ErrCodeTransport).
			WithMetadata(map[string]any{"method": method, "url": endpoint})
	}
	defer resp.Body.Close()
	c.logger.Debug("%s %s -> %d (%s)", method, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode >= 500, apperrors.New(fmt.Sprintf("rule engine returned %d for %s %s", resp.StatusCode, method, p), apperrors.CategoryExternal).
			WithTextCode(ErrCodeRemote).
			WithMetadata(map[string]any{
				"status": resp.StatusCode,
				"method": method,
				"url":    endpoint,
				"body":   strings.TrimSpace(string(snippet)),
			})
	}

	if out == nil {
		return false, nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false, fmt.Errorf("read %s response: %w", p, err)
		}
		*raw = bytes.TrimSpace(data)
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", p, err)
	}
	return false, nil
}

// StatusCode extracts the HTTP status carried by a remote error.
func StatusCode(err error) int {
	var ge *apperrors.Error
	if !stderrors.As(err, &ge) || ge.Metadata == nil {
		return 0
	}
	status, _ := ge.Metadata["status"].(int)
	return status
}
