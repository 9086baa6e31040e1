// Package network builds the HTTP client used for model API traffic.
package network

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/tandem-cli/internal/config"
)

// Defaults for model API connections. Requests are few and long-lived, so the
// pool is small and the response header timeout generous.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 120 * time.Second
	DefaultRequestTimeout        = 180 * time.Second

	DefaultMaxIdleConns        = 8
	DefaultMaxIdleConnsPerHost = 4
	DefaultIdleConnTimeout     = 90 * time.Second
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	TLSConfig *tls.Config

	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	ForceHTTP2 bool

	// ProxyURL overrides the environment proxy settings when set.
	ProxyURL *url.URL

	Logger *zap.Logger
}

// NewDefaultClientConfig returns the defaults for model API traffic.
func NewDefaultClientConfig(logger *zap.Logger) *ClientConfig {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		KeepAlive:             DefaultKeepAliveInterval,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceHTTP2:            true,
		Logger:                logger.Named("httpclient"),
	}
}

// ConfigForModel derives the client configuration from a model entry.
func ConfigForModel(m config.LLMModelConfig, logger *zap.Logger) (*ClientConfig, error) {
	cfg := NewDefaultClientConfig(logger)
	if m.APITimeout > 0 {
		cfg.RequestTimeout = m.APITimeout
		if cfg.ResponseHeaderTimeout > m.APITimeout {
			cfg.ResponseHeaderTimeout = m.APITimeout
		}
	}
	if m.ProxyURL != "" {
		u, err := url.Parse(m.ProxyURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy_url %q for model %s", m.ProxyURL, m.Model)
		}
		cfg.ProxyURL = u
	}
	return cfg, nil
}

// NewHTTPTransport creates and configures an http.Transport based on the provided configuration.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(cfg),
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}
	if cfg.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(cfg.ProxyURL)
	}

	if cfg.ForceHTTP2 {
		// http2.ConfigureTransport modifies the transport in place to add HTTP/2 support.
		if err := http2.ConfigureTransport(transport); err != nil {
			cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else if len(transport.TLSClientConfig.NextProtos) == 0 {
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}

// NewClient returns an *http.Client over NewHTTPTransport.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig(nil)
	}
	return &http.Client{
		Transport: NewHTTPTransport(cfg),
		Timeout:   cfg.RequestTimeout,
	}
}

// configureTLS clones the caller's TLS config or builds a TLS 1.2+ default.
func configureTLS(cfg *ClientConfig) *tls.Config {
	if cfg.TLSConfig != nil {
		c := cfg.TLSConfig.Clone()
		if c.MinVersion < tls.VersionTLS12 {
			c.MinVersion = tls.VersionTLS12
		}
		return c
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(64),
	}
}
