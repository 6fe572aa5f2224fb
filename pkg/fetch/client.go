package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/proxy"
)

const (
	// DefaultMaxRedirects matches the stdlib client behaviour.
	DefaultMaxRedirects = 10
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent   = "ffupdaterd/1.0"
	defaultDialTimeout = 30 * time.Second
)

var (
	ErrUnsupportedProxyScheme = errors.New("unsupported proxy scheme")
	ErrInvalidProxyURL        = errors.New("invalid proxy URL")
	ErrTooManyRedirects       = errors.New("redirect loop detected")
	ErrInsecureRedirect       = errors.New("redirect to a non-https URL")
)

var supportedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// NetworkConfig carries the user's network settings. It is consumed once,
// when the shared client is built.
type NetworkConfig struct {
	// ProxyURL is an http, https or socks5 proxy. Empty means direct.
	ProxyURL string
	// ProxyUser and ProxyPassword authenticate against the proxy.
	ProxyUser     string
	ProxyPassword string
	// DNSServer (host:port) replaces the system resolver when set.
	DNSServer string
	// CAFile is a PEM bundle of user installed certificate authorities.
	CAFile string
	// TrustUserCAs adds CAFile to the system roots. When false CAFile is the
	// only trust anchor.
	TrustUserCAs bool
	// Timeout bounds a whole request. Zero means no timeout, which large
	// downloads need.
	Timeout   time.Duration
	UserAgent string
}

// NewClient builds the one http.Client shared by all downloads.
func NewClient(cfg NetworkConfig) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}
	if cfg.DNSServer != "" {
		server := cfg.DNSServer
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		dialer.Resolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				d := net.Dialer{Timeout: 5 * time.Second}
				return d.DialContext(ctx, network, server)
			},
		}
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile, cfg.TrustUserCAs)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}

	if cfg.ProxyURL != "" {
		if err := configureProxy(transport, dialer, cfg); err != nil {
			return nil, err
		}
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &http.Client{
		Transport:     &userAgentTransport{base: transport, userAgent: ua},
		Timeout:       cfg.Timeout,
		CheckRedirect: RedirectPolicy(DefaultMaxRedirects),
	}, nil
}

func configureProxy(transport *http.Transport, dialer *net.Dialer, cfg NetworkConfig) error {
	parsed, err := url.Parse(cfg.ProxyURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ErrInvalidProxyURL
	}
	if !supportedProxySchemes[parsed.Scheme] {
		return fmt.Errorf("%w: %s", ErrUnsupportedProxyScheme, parsed.Scheme)
	}
	if cfg.ProxyUser != "" {
		parsed.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}

	if parsed.Scheme != "socks5" {
		transport.Proxy = http.ProxyURL(parsed)
		return nil
	}

	var auth *proxy.Auth
	if parsed.User != nil {
		pass, _ := parsed.User.Password()
		auth = &proxy.Auth{User: parsed.User.Username(), Password: pass}
	}
	socks, err := proxy.SOCKS5("tcp", parsed.Host, auth, dialer)
	if err != nil {
		return err
	}
	if cd, ok := socks.(proxy.ContextDialer); ok {
		transport.DialContext = cd.DialContext
	} else {
		transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
			return socks.Dial(network, addr)
		}
	}
	return nil
}

func loadCertPool(path string, withSystem bool) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	var pool *x509.CertPool
	if withSystem {
		pool, err = x509.SystemCertPool()
	}
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA file %s contains no certificates", path)
	}
	return pool, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}
	return t.base.RoundTrip(req)
}

// RedirectPolicy caps the number of hops and refuses to leave https.
func RedirectPolicy(maxRedirects int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: exceeded %d hops (last URL: %s)",
				ErrTooManyRedirects, maxRedirects, via[len(via)-1].URL)
		}
		if req.URL.Scheme != "https" {
			return fmt.Errorf("%w: %s", ErrInsecureRedirect, req.URL)
		}
		return nil
	}
}
