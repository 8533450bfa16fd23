// Package httpchannel carries license checks to the licensing authority over
// HTTP/JSON.
package httpchannel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"licensecheck/internal/license"
	api "licensecheck/pkg/contracts/api/v1"
)

// ErrRateLimited is reported when the authority throttles the client.
var ErrRateLimited = errors.New("licensing authority rate limited the request")

const maxResponseBytes = 64 << 10

// Config configures a Channel.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	VersionLabel   string
	UserID         string
}

// Option customises a Channel.
type Option func(*Channel)

// WithHTTPClient replaces the default HTTP/2 capable client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Channel) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Channel implements license.Channel. Each Establish starts a session that
// Release cancels along with every request issued within it.
type Channel struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	base    *url.URL
	ctx     context.Context
	cancel  context.CancelFunc
	ready   bool
	session uint64
}

// New creates a Channel. No network activity happens until Establish.
func New(cfg Config, opts ...Option) *Channel {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	c := &Channel{
		cfg:    cfg,
		client: NewHTTPClient(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "license_channel"))
	return c
}

// NewHTTPClient returns a client whose transport negotiates HTTP/2 over TLS.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		slog.Warn("HTTP/2 unavailable, falling back to HTTP/1.1", slog.String("error", err.Error()))
	}
	return &http.Client{Transport: transport}
}

// Establish validates the base URL synchronously, then probes the authority's
// health endpoint in the background.
func (c *Channel) Establish(events license.ConnectionEvents) error {
	base, err := parseBaseURL(c.cfg.BaseURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.session++
	session := c.session
	ctx, cancel := context.WithCancel(context.Background())
	c.base, c.ctx, c.cancel, c.ready = base, ctx, cancel, false
	c.mu.Unlock()

	go c.probe(ctx, session, base, events)
	return nil
}

func (c *Channel) probe(ctx context.Context, session uint64, base *url.URL, events license.ConnectionEvents) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	err := c.checkHealth(reqCtx, base)

	c.mu.Lock()
	current := session == c.session && ctx.Err() == nil
	if current && err == nil {
		c.ready = true
	}
	c.mu.Unlock()

	if !current {
		return
	}
	if err != nil {
		c.logger.Warn("licensing authority unreachable",
			slog.String("url", base.String()),
			slog.String("error", err.Error()))
		events.Disconnected(err)
		return
	}
	c.logger.Debug("licensing authority reachable", slog.String("url", base.String()))
	events.Connected()
}

func (c *Channel) checkHealth(ctx context.Context, base *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.JoinPath(api.HealthPath).String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe: %w", err)
	}
	defer drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// SendCheck posts one check in the background. It fails fast with
// license.ErrNotConnected outside an established session.
func (c *Channel) SendCheck(nonce int32, packageID string, sink license.ResultSink) error {
	c.mu.Lock()
	ready, ctx, base := c.ready, c.ctx, c.base
	c.mu.Unlock()
	if !ready {
		return license.ErrNotConnected
	}

	body, err := json.Marshal(api.CheckRequest{
		Nonce:        nonce,
		PackageID:    packageID,
		VersionLabel: c.cfg.VersionLabel,
		UserID:       c.cfg.UserID,
	})
	if err != nil {
		return fmt.Errorf("encode check request: %w", err)
	}

	go func() {
		resp, err := c.postCheck(ctx, base, body)
		if err != nil {
			sink.Fail(err)
			return
		}
		sink.Deliver(resp)
	}()
	return nil
}

func (c *Channel) postCheck(ctx context.Context, base *url.URL, body []byte) (license.ServerResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, base.JoinPath(api.ChecksPath).String(), bytes.NewReader(body))
	if err != nil {
		return license.ServerResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return license.ServerResponse{}, fmt.Errorf("post check: %w", err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return license.ServerResponse{}, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return license.ServerResponse{}, fmt.Errorf("post check: unexpected status %d", resp.StatusCode)
	}

	var payload api.CheckResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return license.ServerResponse{}, fmt.Errorf("decode check response: %w", err)
	}
	return license.ServerResponse{
		Code:       payload.ResponseCode,
		SignedData: payload.SignedData,
		Signature:  payload.Signature,
	}, nil
}

// Release ends the current session and cancels its requests.
func (c *Channel) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.ready = false
	c.session++
}

func parseBaseURL(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("licensing authority URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid licensing authority URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid licensing authority URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("licensing authority URL has no host")
	}
	return u, nil
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxResponseBytes))
	_ = body.Close()
}
