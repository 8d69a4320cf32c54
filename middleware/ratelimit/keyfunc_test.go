package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDefaultKeyFunc_PrefersHeaderWhenSet(t *testing.T) {
	fn := DefaultKeyFunc("X-Client", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", " client-123 ")

	if got := fn(r); got != "client-123" {
		t.Fatalf("expected header key, got %q", got)
	}
}

func TestDefaultKeyFunc_TrustXForwardedForUsesFirstIP(t *testing.T) {
	fn := DefaultKeyFunc("", true)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := fn(r); got != "ip:1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestDefaultKeyFunc_FallbacksToRemoteAddrHost(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"

	if got := fn(r); got != "ip:10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestDefaultKeyFunc_AuthenticatedGetsHashedIdentity(t *testing.T) {
	fn := DefaultKeyFunc("", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("Authorization", "Bearer token-abc")

	got := fn(r)
	if !strings.HasPrefix(got, "user:") {
		t.Fatalf("expected user: prefix, got %q", got)
	}
	if len(got) != len("user:")+16 {
		t.Fatalf("expected 16 hex chars of hash, got %q", got)
	}
	if strings.Contains(got, "token-abc") {
		t.Fatalf("credential must not appear in the key: %q", got)
	}

	// mesma credencial e IP: chave estável
	if again := fn(r); again != got {
		t.Fatalf("expected stable key, got %q vs %q", got, again)
	}

	// credencial diferente: chave diferente
	r2 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r2.RemoteAddr = "10.0.0.9:5555"
	r2.Header.Set("Authorization", "Bearer token-xyz")
	if other := fn(r2); other == got {
		t.Fatalf("expected different key for different credential")
	}
}

func TestPrefixTagFunc_FirstMatchWins(t *testing.T) {
	fn := PrefixTagFunc([]PathTag{
		{Prefix: "/ai/generate", Tag: "ai"},
		{Prefix: "/audio/", Tag: "audio"},
		{Prefix: "/dashboard/", Tag: "dashboard"},
	})

	cases := []struct {
		path string
		want string
	}{
		{"/ai/generate", "ai"},
		{"/audio/upload", "audio"},
		{"/dashboard/home", "dashboard"},
		{"/health", ""},
	}
	for _, c := range cases {
		r := httptest.NewRequest(http.MethodGet, "http://example"+c.path, nil)
		if got := fn(r); got != c.want {
			t.Fatalf("path %s: expected tag %q, got %q", c.path, c.want, got)
		}
	}
}
