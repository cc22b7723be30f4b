package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrUnknownBackend is returned for model names absent from configuration.
var ErrUnknownBackend = errors.New("unknown backend")

const (
	defaultMaxConns     = 100
	defaultMaxIdleConns = 20
	idleConnTimeout     = 90 * time.Second
)

// Pool provides one keep-alive HTTP client per configured model service.
// Clients are created lazily and reused; connections are pooled by the
// transport and idle ones pruned after idleConnTimeout.
type Pool struct {
	urls    map[string]string
	clients *xsync.Map[string, *http.Client]

	connectTimeout time.Duration
	requestTimeout time.Duration
	maxConns       int
	maxIdleConns   int

	logger *zap.Logger
}

// PoolOption configures the pool.
type PoolOption func(*Pool)

// WithConnCaps overrides the per-host connection and idle-connection caps.
func WithConnCaps(maxConns, maxIdle int) PoolOption {
	return func(p *Pool) {
		p.maxConns = maxConns
		p.maxIdleConns = maxIdle
	}
}

// NewPool creates a pool for the given name -> base URL mapping. The
// connect timeout bounds dialing, the request timeout bounds the whole
// exchange including body read.
func NewPool(urls map[string]string, connectTimeout, requestTimeout time.Duration, logger *zap.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		urls:           urls,
		clients:        xsync.NewMap[string, *http.Client](),
		connectTimeout: connectTimeout,
		requestTimeout: requestTimeout,
		maxConns:       defaultMaxConns,
		maxIdleConns:   defaultMaxIdleConns,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ClientFor returns the pooled client for a model.
func (p *Pool) ClientFor(name string) (*http.Client, error) {
	if _, ok := p.urls[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	c, _ := p.clients.LoadOrCompute(name, func() (*http.Client, bool) {
		return p.newClient(), false
	})
	return c, nil
}

// BaseURL returns the configured base URL for a model.
func (p *Pool) BaseURL(name string) (string, error) {
	u, ok := p.urls[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return u, nil
}

// Healthy probes the model's /health endpoint. Operational use only; the
// request path never calls this.
func (p *Pool) Healthy(ctx context.Context, name string) bool {
	client, err := p.ClientFor(name)
	if err != nil {
		return false
	}
	base, _ := p.BaseURL(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Shutdown drops idle connections on every pooled client. Idempotent.
func (p *Pool) Shutdown() {
	p.clients.Range(func(name string, c *http.Client) bool {
		c.CloseIdleConnections()
		p.logger.Debug("closed idle connections", zap.String("model", name))
		return true
	})
}

func (p *Pool) newClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   p.connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Client{
		Timeout: p.requestTimeout,
		Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			MaxConnsPerHost:     p.maxConns,
			MaxIdleConns:        p.maxConns,
			MaxIdleConnsPerHost: p.maxIdleConns,
			IdleConnTimeout:     idleConnTimeout,
			TLSHandshakeTimeout: p.connectTimeout,
		},
	}
}
