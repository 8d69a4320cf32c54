package infra

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore é uma implementação em memória de domain.WindowStore,
// com limpeza periódica de chaves ociosas.
//
// Serve para testes e para deploy garantidamente single-instance; com mais de
// uma instância os contadores divergem e o limite deixa de valer globalmente
// (use o RedisWindowStore nesses casos).
type MemoryWindowStore struct {
	mu           sync.Mutex
	entries      map[string]*windowEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type windowEntry struct {
	stamps   []time.Time
	lastSeen time.Time
}

type WindowOption func(*MemoryWindowStore)

func WithWindowIdleTTL(d time.Duration) WindowOption {
	return func(s *MemoryWindowStore) { s.idleTTL = d }
}

func WithWindowCleanupEvery(d time.Duration) WindowOption {
	return func(s *MemoryWindowStore) { s.cleanupEvery = d }
}

func NewMemoryWindowStore(opts ...WindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		entries:      make(map[string]*windowEntry),
		idleTTL:      48 * time.Hour,
		cleanupEvery: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Slide implementa domain.WindowStore. O mutex faz o papel da atomicidade que
// o Redis garante via script: expira+conta+insere sem intercalação.
func (s *MemoryWindowStore) Slide(_ context.Context, key string, now time.Time, window time.Duration, cap int) (bool, int, error) {
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entries[key]
	if !ok {
		ent = &windowEntry{}
		s.entries[key] = ent
	}
	ent.lastSeen = now

	// expira por timestamp: estritamente menor que o início da janela
	// (empate exato no limite conta como dentro)
	kept := ent.stamps[:0]
	for _, ts := range ent.stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	ent.stamps = kept

	count := len(ent.stamps)
	if count >= cap {
		return false, 0, nil
	}

	ent.stamps = append(ent.stamps, now)
	return true, cap - count - 1, nil
}

func (s *MemoryWindowStore) Cleanup() {
	cutoff := time.Now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}
