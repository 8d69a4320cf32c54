package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

// KeyFunc deriva a identidade do cliente a partir da requisição.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc deriva "ip:<addr>" para anônimos e "user:<hash>" quando há
// Authorization (hash de IP+credencial: rate limit por usuário sem guardar o
// token em claro nas chaves do store).
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		ip := clientIP(r, trustXFF)

		if auth := r.Header.Get("Authorization"); auth != "" {
			sum := sha256.Sum256([]byte(ip + ":" + auth))
			return "user:" + hex.EncodeToString(sum[:])[:16]
		}
		return "ip:" + ip
	}
}

func clientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if len(parts) > 0 {
				ip := strings.TrimSpace(parts[0])
				if ip != "" {
					return ip
				}
			}
		}
		if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
			return rip
		}
	}

	// fallback: RemoteAddr
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// TagFunc resolve o tag de endpoint usado para escolher os tiers
// (overrides por endpoint). Tag vazio usa os tiers default.
type TagFunc func(r *http.Request) string

// PathTag associa um prefixo de path a um tag de endpoint.
type PathTag struct {
	Prefix string
	Tag    string
}

// PrefixTagFunc resolve o tag pelo primeiro prefixo que casa, na ordem dada
// (prefixos mais específicos primeiro).
func PrefixTagFunc(tags []PathTag) TagFunc {
	return func(r *http.Request) string {
		for _, t := range tags {
			if strings.HasPrefix(r.URL.Path, t.Prefix) {
				return t.Tag
			}
		}
		return ""
	}
}
