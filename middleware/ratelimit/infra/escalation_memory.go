package infra

import (
	"context"
	"sync"
	"time"

	"guardian-gateway/middleware/ratelimit/domain"
)

// MemoryViolationLedger é a versão em memória do ledger de violações.
// Útil para testes e desenvolvimento; mesma semântica de TTL rolante.
type MemoryViolationLedger struct {
	mu     sync.Mutex
	counts map[domain.Key]*violationEntry
	ttl    time.Duration
	now    func() time.Time
}

type violationEntry struct {
	count   int
	expires time.Time
}

type MemoryLedgerOption func(*MemoryViolationLedger)

func WithMemoryLedgerTTL(d time.Duration) MemoryLedgerOption {
	return func(l *MemoryViolationLedger) { l.ttl = d }
}

// WithMemoryLedgerClock fixa o relógio (testes).
func WithMemoryLedgerClock(now func() time.Time) MemoryLedgerOption {
	return func(l *MemoryViolationLedger) { l.now = now }
}

func NewMemoryViolationLedger(opts ...MemoryLedgerOption) *MemoryViolationLedger {
	l := &MemoryViolationLedger{
		counts: make(map[domain.Key]*violationEntry),
		ttl:    time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryViolationLedger) RecordViolation(_ context.Context, key domain.Key) (int, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	ent, ok := l.counts[key]
	if !ok || !ent.expires.After(now) {
		ent = &violationEntry{}
		l.counts[key] = ent
	}
	ent.count++
	// TTL rolante: renova a cada escrita
	ent.expires = now.Add(l.ttl)
	return ent.count, nil
}

// MemoryBlockRegistry é a versão em memória do registro de bloqueios.
type MemoryBlockRegistry struct {
	mu     sync.Mutex
	blocks map[domain.Key]time.Time
	now    func() time.Time
}

type MemoryRegistryOption func(*MemoryBlockRegistry)

// WithMemoryRegistryClock fixa o relógio (testes).
func WithMemoryRegistryClock(now func() time.Time) MemoryRegistryOption {
	return func(r *MemoryBlockRegistry) { r.now = now }
}

func NewMemoryBlockRegistry(opts ...MemoryRegistryOption) *MemoryBlockRegistry {
	r := &MemoryBlockRegistry{
		blocks: make(map[domain.Key]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *MemoryBlockRegistry) IsBlocked(_ context.Context, key domain.Key) (bool, time.Duration, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	expiry, ok := r.blocks[key]
	if !ok {
		return false, 0, nil
	}
	if !expiry.After(now) {
		delete(r.blocks, key)
		return false, 0, nil
	}
	return true, expiry.Sub(now), nil
}

func (r *MemoryBlockRegistry) Block(_ context.Context, key domain.Key, duration time.Duration) error {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	// bloqueio já ativo não é estendido nem recriado
	if expiry, ok := r.blocks[key]; ok && expiry.After(now) {
		return nil
	}
	r.blocks[key] = now.Add(duration)
	return nil
}
