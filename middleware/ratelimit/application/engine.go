package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guardian-gateway/middleware/ratelimit/domain"
)

// Engine avalia as policies de um cliente em ordem, parando na primeira que
// nega (short-circuit). Tiers posteriores não são cobrados quando um anterior
// nega; em caso de allow, cada tier consome uma vaga conforme é avaliado.
type Engine struct {
	store     domain.WindowStore
	defaults  []domain.Policy
	overrides map[string][]domain.Policy
	keyPrefix string
}

// NewEngine valida as policies na construção (config inválida é fatal aqui,
// nunca em tempo de requisição).
func NewEngine(store domain.WindowStore, defaults []domain.Policy, overrides map[string][]domain.Policy) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("window store is nil: %w", domain.ErrInvalidConfig)
	}
	if len(defaults) == 0 {
		defaults = domain.DefaultPolicies()
	}
	for _, p := range defaults {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	for tag, tiers := range overrides {
		if strings.TrimSpace(tag) == "" {
			return nil, fmt.Errorf("override with empty tag: %w", domain.ErrInvalidConfig)
		}
		for _, p := range tiers {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("override %q: %w", tag, err)
			}
		}
	}
	return &Engine{
		store:     store,
		defaults:  defaults,
		overrides: overrides,
		keyPrefix: "ratelimit",
	}, nil
}

// PoliciesFor resolve o conjunto de tiers para um endpoint. Tags sem override
// usam os defaults.
func (e *Engine) PoliciesFor(tag string) []domain.Policy {
	if tiers, ok := e.overrides[tag]; ok {
		return tiers
	}
	return e.defaults
}

// windowKey monta a chave no namespace ratelimit:<tier>:<cliente>.
// Endpoints com override ganham o tag no meio para não colidir com os
// contadores default: ratelimit:<tag>:<tier>:<cliente>.
func (e *Engine) windowKey(tag string, tier domain.LimitType, key domain.Key) string {
	if _, ok := e.overrides[tag]; ok {
		return e.keyPrefix + ":" + tag + ":" + string(tier) + ":" + string(key)
	}
	return e.keyPrefix + ":" + string(tier) + ":" + string(key)
}

// Evaluate roda os tiers na ordem configurada.
//
// No deny, RetryAfter é o tamanho da janela violada (não o tempo até a
// entrada mais antiga expirar) e ResetAt = now + janela. No allow, Remaining
// reflete o tier mais restritivo entre os avaliados.
func (e *Engine) Evaluate(ctx context.Context, key domain.Key, tag string, now time.Time) (domain.Decision, error) {
	remaining := -1
	limit := 0
	for _, p := range e.PoliciesFor(tag) {
		allowed, rem, err := e.store.Slide(ctx, e.windowKey(tag, p.Tier, key), now, p.Window, p.Cap)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("tier %s: %w", p.Tier, err)
		}
		if !allowed {
			return domain.Decision{
				Allowed:    false,
				LimitType:  p.Tier,
				Limit:      p.Cap,
				Remaining:  0,
				RetryAfter: p.Window,
				ResetAt:    now.Add(p.Window),
			}, nil
		}
		if remaining < 0 || rem < remaining {
			remaining = rem
			limit = p.Cap
		}
	}
	if remaining < 0 {
		remaining = 0
	}
	return domain.Decision{Allowed: true, Limit: limit, Remaining: remaining}, nil
}
