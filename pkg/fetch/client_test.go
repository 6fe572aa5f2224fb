package fetch

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func TestNewClient_Direct(t *testing.T) {
	c, err := NewClient(NetworkConfig{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.CheckRedirect == nil {
		t.Fatal("expected redirect policy")
	}
}

func TestNewClient_ProxyValidation(t *testing.T) {
	tests := []struct {
		name  string
		proxy string
		want  error
	}{
		{"missing host", "http://", ErrInvalidProxyURL},
		{"unsupported", "ftp://proxy:21", ErrUnsupportedProxyScheme},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(NetworkConfig{ProxyURL: tt.proxy})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewClient_HTTPProxyWithAuth(t *testing.T) {
	c, err := NewClient(NetworkConfig{ProxyURL: "http://proxy.local:3128", ProxyUser: "alice", ProxyPassword: "s3cret"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tr := c.Transport.(*userAgentTransport).base.(*http.Transport)
	req, _ := http.NewRequest(http.MethodGet, "https://example.com", nil)
	u, err := tr.Proxy(req)
	if err != nil {
		t.Fatalf("Proxy: %v", err)
	}
	if u.Host != "proxy.local:3128" || u.User.Username() != "alice" {
		t.Fatalf("unexpected proxy URL %v", u)
	}
	if pass, _ := u.User.Password(); pass != "s3cret" {
		t.Fatalf("unexpected proxy password %q", pass)
	}
}

func TestNewClient_Socks5(t *testing.T) {
	c, err := NewClient(NetworkConfig{ProxyURL: "socks5://127.0.0.1:1080", ProxyUser: "bob"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tr := c.Transport.(*userAgentTransport).base.(*http.Transport)
	if tr.Proxy != nil {
		t.Fatal("socks5 must be configured through the dialer")
	}
	if tr.DialContext == nil {
		t.Fatal("expected socks5 dialer")
	}
}

func TestNewClient_CAFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(NetworkConfig{CAFile: path}); err == nil {
		t.Fatal("expected error for a CA file without certificates")
	}
}

func writeServerCA(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewClient_CAFileTrustsServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	path := writeServerCA(t, srv)

	for _, trustUser := range []bool{false, true} {
		c, err := NewClient(NetworkConfig{CAFile: path, TrustUserCAs: trustUser})
		if err != nil {
			t.Fatalf("NewClient(trust=%v): %v", trustUser, err)
		}
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatalf("GET with trust=%v: %v", trustUser, err)
		}
		resp.Body.Close()
	}
}

func TestLoadCertPool_TrustUserCAs(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	defer srv.Close()
	path := writeServerCA(t, srv)

	only := x509.NewCertPool()
	only.AddCert(srv.Certificate())
	pool, err := loadCertPool(path, false)
	if err != nil {
		t.Fatalf("loadCertPool: %v", err)
	}
	if !pool.Equal(only) {
		t.Fatal("without trust_user_cas the pool must hold only the CA file")
	}

	sys, err := x509.SystemCertPool()
	if err != nil || sys == nil {
		t.Skipf("system roots unavailable: %v", err)
	}
	sys.AddCert(srv.Certificate())
	pool, err = loadCertPool(path, true)
	if err != nil {
		t.Fatalf("loadCertPool: %v", err)
	}
	if !pool.Equal(sys) {
		t.Fatal("with trust_user_cas the pool must extend the system roots")
	}
}

func TestUserAgentTransport(t *testing.T) {
	var got string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := srv.Client()
	c.Transport = &userAgentTransport{base: c.Transport, userAgent: "ffupdaterd-test"}
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if got != "ffupdaterd-test" {
		t.Fatalf("User-Agent = %q", got)
	}
}

func TestRedirectPolicy(t *testing.T) {
	policy := RedirectPolicy(2)
	mk := func(raw string) *http.Request {
		u, _ := url.Parse(raw)
		return &http.Request{URL: u}
	}
	if err := policy(mk("https://b"), []*http.Request{mk("https://a")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := policy(mk("http://b"), []*http.Request{mk("https://a")}); !errors.Is(err, ErrInsecureRedirect) {
		t.Fatalf("expected ErrInsecureRedirect, got %v", err)
	}
	if err := policy(mk("https://c"), []*http.Request{mk("https://a"), mk("https://b")}); !errors.Is(err, ErrTooManyRedirects) {
		t.Fatalf("expected ErrTooManyRedirects, got %v", err)
	}
}
