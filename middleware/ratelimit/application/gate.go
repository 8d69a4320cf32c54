package application

import (
	"context"
	"fmt"
	"log"
	"time"

	"guardian-gateway/middleware/ratelimit/domain"
)

// GateOptions configura a fachada. Campos zero usam os defaults indicados.
type GateOptions struct {
	Engine *Engine
	Blocks domain.BlockRegistry
	Ledger domain.ViolationLedger
	// Alerts é opcional; nil desliga notificações de escalada.
	Alerts domain.AlertSink
	// Exempt lista clientes que passam sem nenhuma checagem nem escrita
	// (ex: loopback).
	Exempt []domain.Key

	// ViolationThreshold: violações dentro da janela rolante do ledger que
	// disparam o bloqueio. Default 5.
	ViolationThreshold int
	// BlockDuration: duração do bloqueio. Default 60min.
	BlockDuration time.Duration
	// StoreTimeout limita cada avaliação completa contra os stores.
	// Estourar o timeout cai no fail-open como qualquer erro. Default 200ms.
	StoreTimeout time.Duration

	// Logger recebe fail-open e escaladas. nil = silencioso.
	Logger *log.Logger
	// Now permite relógio fixo em teste. nil = time.Now.
	Now func() time.Time
}

// Gate é a fachada que a camada web chama a cada requisição.
//
// Ordem: exempt -> bloqueio ativo -> tiers -> (no deny) ledger e possível
// escalada. Toda falha de store vira allow (fail-open) neste único ponto:
// indisponibilidade do store de contagem nunca derruba o serviço inteiro.
type Gate struct {
	engine    *Engine
	blocks    domain.BlockRegistry
	ledger    domain.ViolationLedger
	alerts    domain.AlertSink
	exempt    map[domain.Key]struct{}
	threshold int
	blockDur  time.Duration
	timeout   time.Duration
	logger    *log.Logger
	now       func() time.Time
}

func NewGate(opts GateOptions) (*Gate, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("engine is nil: %w", domain.ErrInvalidConfig)
	}
	if opts.Blocks == nil {
		return nil, fmt.Errorf("block registry is nil: %w", domain.ErrInvalidConfig)
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("violation ledger is nil: %w", domain.ErrInvalidConfig)
	}
	if opts.ViolationThreshold < 0 {
		return nil, fmt.Errorf("violation threshold must be >= 0: %w", domain.ErrInvalidConfig)
	}
	if opts.ViolationThreshold == 0 {
		opts.ViolationThreshold = 5
	}
	if opts.BlockDuration < 0 {
		return nil, fmt.Errorf("block duration must be >= 0: %w", domain.ErrInvalidConfig)
	}
	if opts.BlockDuration == 0 {
		opts.BlockDuration = 60 * time.Minute
	}
	if opts.StoreTimeout == 0 {
		opts.StoreTimeout = 200 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	exempt := make(map[domain.Key]struct{}, len(opts.Exempt))
	for _, k := range opts.Exempt {
		exempt[k] = struct{}{}
	}

	return &Gate{
		engine:    opts.Engine,
		blocks:    opts.Blocks,
		ledger:    opts.Ledger,
		alerts:    opts.Alerts,
		exempt:    exempt,
		threshold: opts.ViolationThreshold,
		blockDur:  opts.BlockDuration,
		timeout:   opts.StoreTimeout,
		logger:    opts.Logger,
		now:       opts.Now,
	}, nil
}

// Evaluate decide se a requisição passa. Nunca retorna erro: falha de store
// degrada para allow e vai para o log.
func (g *Gate) Evaluate(ctx context.Context, key domain.Key, endpointTag string) domain.Decision {
	if key == "" {
		// sem identidade não há o que limitar
		return domain.Decision{Allowed: true}
	}
	if _, ok := g.exempt[key]; ok {
		return domain.Decision{Allowed: true}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	now := g.now()

	blocked, rem, err := g.blocks.IsBlocked(ctx, key)
	if err != nil {
		return g.failOpen(key, "block check", err)
	}
	if blocked {
		return domain.Decision{
			Allowed:    false,
			LimitType:  domain.LimitBlocked,
			RetryAfter: rem,
			ResetAt:    now.Add(rem),
			Blocked:    true,
		}
	}

	dec, err := g.engine.Evaluate(ctx, key, endpointTag, now)
	if err != nil {
		return g.failOpen(key, "window evaluation", err)
	}
	if dec.Allowed {
		return dec
	}

	g.escalate(ctx, key, dec.LimitType)
	return dec
}

// escalate registra a violação e bloqueia ao atingir o threshold. Falhas aqui
// não mudam o deny já decidido: vão só para o log.
func (g *Gate) escalate(ctx context.Context, key domain.Key, tier domain.LimitType) {
	count, err := g.ledger.RecordViolation(ctx, key)
	if err != nil {
		g.logf("ratelimit: violation ledger error key=%s err=%v", key, err)
		return
	}
	g.logf("ratelimit: violation key=%s tier=%s total=%d", key, tier, count)

	if count < g.threshold {
		return
	}

	if err := g.blocks.Block(ctx, key, g.blockDur); err != nil {
		g.logf("ratelimit: block error key=%s err=%v", key, err)
		return
	}
	g.logf("ratelimit: client blocked key=%s violations=%d duration=%s", key, count, g.blockDur)

	if g.alerts == nil {
		return
	}
	alert := domain.Alert{
		Type:       "rate_limit_block",
		Key:        key,
		Violations: count,
		At:         g.now(),
		Severity:   "high",
	}
	if err := g.alerts.Notify(ctx, alert); err != nil {
		g.logf("ratelimit: alert sink error key=%s err=%v", key, err)
	}
}

func (g *Gate) failOpen(key domain.Key, op string, err error) domain.Decision {
	g.logf("ratelimit: fail-open (%s) key=%s err=%v", op, key, err)
	return domain.Decision{Allowed: true}
}

func (g *Gate) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}
