package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Key identifica o cliente (ex: "ip:1.2.3.4", "user:ab12...").
// É opaca para o domínio: quem deriva a chave é o adapter HTTP.
type Key string

var (
	ErrEmptyKey      = errors.New("empty rate limit key")
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
)

// LimitType nomeia a janela que negou a requisição (ou "blocked").
type LimitType string

const (
	LimitNone    LimitType = ""
	LimitBurst   LimitType = "burst"
	LimitMinute  LimitType = "minute"
	LimitHour    LimitType = "hour"
	LimitDay     LimitType = "day"
	LimitBlocked LimitType = "blocked"
)

// Policy é uma janela deslizante: no máximo Cap requisições por Window.
//
// As policies são avaliadas na ordem em que aparecem; janelas curtas (burst)
// vêm antes das longas (day) para que abuso rápido seja barrado antes de
// consumir cota das janelas longas.
type Policy struct {
	Tier   LimitType
	Window time.Duration
	Cap    int
}

func (p Policy) Validate() error {
	if p.Tier == LimitNone || p.Tier == LimitBlocked {
		return fmt.Errorf("policy tier %q: %w", p.Tier, ErrInvalidConfig)
	}
	if p.Window <= 0 {
		return fmt.Errorf("policy %s: window must be > 0: %w", p.Tier, ErrInvalidConfig)
	}
	if p.Cap <= 0 {
		return fmt.Errorf("policy %s: cap must be > 0: %w", p.Tier, ErrInvalidConfig)
	}
	return nil
}

// DefaultPolicies são os tiers padrão: burst 10/10s, 60/min, 600/h, 5000/dia.
func DefaultPolicies() []Policy {
	return []Policy{
		{Tier: LimitBurst, Window: 10 * time.Second, Cap: 10},
		{Tier: LimitMinute, Window: time.Minute, Cap: 60},
		{Tier: LimitHour, Window: time.Hour, Cap: 600},
		{Tier: LimitDay, Window: 24 * time.Hour, Cap: 5000},
	}
}

// Decision é o resultado da avaliação, pronto para ser traduzido em
// status/headers pelo adapter HTTP.
type Decision struct {
	Allowed   bool
	LimitType LimitType
	// Limit é o cap do tier violado (no deny) ou do tier mais restritivo
	// avaliado (no allow). Zero quando não se aplica (exempt, blocked).
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	// ResetAt indica quando a janela violada abre de novo. Zero = ausente.
	ResetAt time.Time
	// Blocked indica bloqueio ativo (escalada), não uma janela estourada.
	Blocked bool
}

// WindowStore é a operação atômica "expira antigos + conta + insere" sobre a
// coleção ordenada de timestamps de uma chave.
//
// Contrato de Slide:
//   - remove entradas com timestamp estritamente menor que now-window;
//   - se a contagem restante >= cap, nega sem inserir (remaining=0);
//   - senão insere `now` e permite, com remaining = cap - contagem - 1.
//
// A sequência inteira deve executar como uma única operação indivisível
// (script/transação no store), senão dois callers concorrentes podem ocupar
// a mesma última vaga.
type WindowStore interface {
	Slide(ctx context.Context, key string, now time.Time, window time.Duration, cap int) (allowed bool, remaining int, err error)
}
