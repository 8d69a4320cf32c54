package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"guardian-gateway/middleware/ratelimit/application"
	"guardian-gateway/middleware/ratelimit/domain"
)

type Options struct {
	Gate  *application.Gate
	Stats domain.StatsStore

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	TagFn        TagFunc
	EndpointTags []PathTag

	// SkipPaths: prefixos que não passam pelo gate (estáticos, favicon, etc).
	SkipPaths []string

	RejectStatus int
	// AddRateLimitHeaders também nas respostas permitidas (no deny os
	// headers saem sempre).
	AddRateLimitHeaders bool
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.TagFn == nil {
		opts.TagFn = PrefixTagFunc(opts.EndpointTags)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Gate == nil || skipPath(opts.SkipPaths, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			key := opts.KeyFn(r)
			tag := opts.TagFn(r)

			dec := opts.Gate.Evaluate(r.Context(), domain.Key(key), tag)

			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:       domain.Key(key),
					Allowed:   dec.Allowed,
					LimitType: dec.LimitType,
					Method:    r.Method,
					Path:      r.URL.Path,
					At:        time.Now(),
				})
			}

			if !dec.Allowed {
				setRateLimitHeaders(w, dec)
				w.Header().Set("Retry-After", formatInt(int(dec.RetryAfter.Seconds())))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				setRateLimitHeaders(w, dec)
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, dec domain.Decision) {
	w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
	w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
	if !dec.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", formatUnix(dec.ResetAt))
	}
}

func skipPath(prefixes []string, path string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
