// Package resilience provides the outbound HTTP transport, retry policy and
// circuit breakers used for upstream Chat Completions calls.
package resilience

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// TransportSettings tunes the pooled transports. Streams can run for
// minutes, so there is no overall client timeout; ResponseHeaderTimeout
// bounds the wait for the first byte instead.
type TransportSettings struct {
	MaxIdleConns          int
	MaxIdleConnsPerHost   int
	IdleConnTimeout       time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	DialTimeout           time.Duration
	KeepAlive             time.Duration
	H2ReadIdleTimeout     time.Duration
	H2PingTimeout         time.Duration
}

var DefaultTransportSettings = TransportSettings{
	MaxIdleConns:          512,
	MaxIdleConnsPerHost:   64,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 600 * time.Second, // long prompts can take minutes to first token
	DialTimeout:           30 * time.Second,
	KeepAlive:             30 * time.Second,
	H2ReadIdleTimeout:     30 * time.Second,
	H2PingTimeout:         15 * time.Second,
}

func (s TransportSettings) dialer() *net.Dialer {
	return &net.Dialer{Timeout: s.DialTimeout, KeepAlive: s.KeepAlive}
}

// base returns a transport without DialContext or Proxy set. Response
// decompression is left to the caller, which advertises its own
// Accept-Encoding.
func (s TransportSettings) base() *http.Transport {
	t := &http.Transport{
		MaxIdleConns:          s.MaxIdleConns,
		MaxIdleConnsPerHost:   s.MaxIdleConnsPerHost,
		IdleConnTimeout:       s.IdleConnTimeout,
		TLSHandshakeTimeout:   s.TLSHandshakeTimeout,
		ResponseHeaderTimeout: s.ResponseHeaderTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		WriteBufferSize:       64 * 1024,
		ReadBufferSize:        64 * 1024,
	}
	if h2, err := http2.ConfigureTransports(t); err == nil {
		h2.ReadIdleTimeout = s.H2ReadIdleTimeout
		h2.PingTimeout = s.H2PingTimeout
	}
	return t
}

// TransportCache shares one transport per proxy URL. The empty URL maps to
// a direct transport.
type TransportCache struct {
	settings TransportSettings
	mu       sync.RWMutex
	cache    map[string]*http.Transport
}

func NewTransportCache(settings TransportSettings) *TransportCache {
	return &TransportCache{settings: settings, cache: make(map[string]*http.Transport)}
}

// Get returns the transport for proxyURL, creating it on first use.
// Supported schemes: http, https, socks5, socks5h.
func (c *TransportCache) Get(proxyURL string) (*http.Transport, error) {
	c.mu.RLock()
	t := c.cache[proxyURL]
	c.mu.RUnlock()
	if t != nil {
		return t, nil
	}

	t, err := c.build(proxyURL)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.cache[proxyURL]; existing != nil {
		t.CloseIdleConnections()
		return existing, nil
	}
	c.cache[proxyURL] = t
	return t, nil
}

func (c *TransportCache) build(proxyURL string) (*http.Transport, error) {
	t := c.settings.base()
	if proxyURL == "" {
		t.DialContext = c.settings.dialer().DialContext
		return t, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	switch u.Scheme {
	case "socks5", "socks5h":
		var auth *proxy.Auth
		if u.User != nil {
			password, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: password}
		}
		dialer, err := proxy.SOCKS5("tcp", u.Host, auth, c.settings.dialer())
		if err != nil {
			return nil, fmt.Errorf("socks5 proxy %s: %w", u.Host, err)
		}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			t.DialContext = cd.DialContext
		} else {
			t.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
		t.DialContext = c.settings.dialer().DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return t, nil
}

// Client returns an http.Client over the cached transport for proxyURL.
func (c *TransportCache) Client(proxyURL string) (*http.Client, error) {
	t, err := c.Get(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t}, nil
}

// CloseIdle drops idle connections of every cached transport.
func (c *TransportCache) CloseIdle() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.cache {
		t.CloseIdleConnections()
	}
}
