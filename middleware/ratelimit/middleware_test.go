package ratelimit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"guardian-gateway/middleware/ratelimit/application"
	"guardian-gateway/middleware/ratelimit/domain"
	"guardian-gateway/middleware/ratelimit/infra"
)

func newTestGate(t *testing.T, policies []domain.Policy, exempt ...domain.Key) *application.Gate {
	t.Helper()
	eng, err := application.NewEngine(infra.NewMemoryWindowStore(), policies, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	gate, err := application.NewGate(application.GateOptions{
		Engine: eng,
		Blocks: infra.NewMemoryBlockRegistry(),
		Ledger: infra.NewMemoryViolationLedger(),
		Exempt: exempt,
	})
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return gate
}

func tightPolicies() []domain.Policy {
	return []domain.Policy{
		{Tier: domain.LimitBurst, Window: 10 * time.Second, Cap: 1},
		{Tier: domain.LimitMinute, Window: time.Minute, Cap: 60},
	}
}

func TestMiddleware_AllowsThenRejectsSameKey(t *testing.T) {
	gate := newTestGate(t, tightPolicies())

	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})

	h := Middleware(Options{
		Gate:                gate,
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: true,
	})(next)

	// 1) primeira passa
	r1 := httptest.NewRequest(http.MethodGet, "http://example/audio/say", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Key"); got != "ip:10.0.0.1" {
		t.Fatalf("expected X-RateLimit-Key=ip:10.0.0.1, got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Limit"); got != "1" {
		t.Fatalf("expected X-RateLimit-Limit=1 (burst is most restrictive), got %q", got)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0, got %q", got)
	}

	// 2) segunda estoura o burst (cap=1)
	r2 := httptest.NewRequest(http.MethodGet, "http://example/audio/say", nil)
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := strings.TrimSpace(w2.Header().Get("Retry-After")); got != "10" {
		t.Fatalf("expected Retry-After=10, got %q", got)
	}
	if got := w2.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected X-RateLimit-Remaining=0 on deny, got %q", got)
	}
	if got := w2.Header().Get("X-RateLimit-Reset"); got == "" {
		t.Fatalf("expected X-RateLimit-Reset to be set on deny")
	}

	if calls != 1 {
		t.Fatalf("expected next handler to be called once, got %d", calls)
	}
}

func TestMiddleware_KeysAreIndependent(t *testing.T) {
	gate := newTestGate(t, tightPolicies())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{Gate: gate, KeyHeader: "X-Api-Key"})(next)

	// duas chaves diferentes => ambos devem passar (cada chave tem seu próprio contador)
	r1 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r1.Header.Set("X-Api-Key", "k1")
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200 for key k1, got %d", w1.Code)
	}

	r2 := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r2.Header.Set("X-Api-Key", "k2")
	r2.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusOK {
		t.Fatalf("expected 200 for key k2, got %d", w2.Code)
	}
}

func TestMiddleware_ExemptClientNeverDenied(t *testing.T) {
	gate := newTestGate(t, tightPolicies(), "ip:10.0.0.1")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Gate: gate})(next)

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected exempt client to pass, got %d", i+1, w.Code)
		}
	}
}

func TestMiddleware_SkipPathsBypassTheGate(t *testing.T) {
	gate := newTestGate(t, tightPolicies())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{
		Gate:      gate,
		SkipPaths: []string{"/static/", "/favicon.ico"},
	})(next)

	for i := 0; i < 5; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/static/logo.png", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected static path to bypass gate, got %d", i+1, w.Code)
		}
	}
}

func TestMiddleware_RecordsStats(t *testing.T) {
	gate := newTestGate(t, tightPolicies())
	stats := infra.NewMemoryStatsStore()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(Options{Gate: gate, Stats: stats})(next)

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://example/audio/say", nil)
		r.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(httptest.NewRecorder(), r)
	}

	total := stats.Total()
	if total.Allowed != 1 || total.Denied != 1 {
		t.Fatalf("expected 1 allowed / 1 denied, got %+v", total)
	}
	byTier := stats.ByTier()
	if byTier[domain.LimitBurst] != 1 {
		t.Fatalf("expected 1 burst denial in stats, got %v", byTier)
	}
}
