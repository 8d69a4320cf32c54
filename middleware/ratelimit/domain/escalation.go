package domain

import (
	"context"
	"time"
)

// ViolationLedger contabiliza violações de tier por cliente.
//
// O contador tem expiração rolante (TTL renovado a cada escrita): uma
// violação não repetida dentro do período é esquecida. Retorna a contagem
// atualizada para o chamador decidir a escalada.
type ViolationLedger interface {
	RecordViolation(ctx context.Context, key Key) (count int, err error)
}

// BlockRegistry guarda bloqueios ativos (cliente -> expiração).
//
// Block é "idempotente": chamar com um bloqueio já ativo não estende nem
// recria a entrada. IsBlocked deve ser consultado antes de qualquer
// avaliação de janela, para não poluir contadores durante o bloqueio.
type BlockRegistry interface {
	IsBlocked(ctx context.Context, key Key) (blocked bool, remaining time.Duration, err error)
	Block(ctx context.Context, key Key, duration time.Duration) error
}

// Alert descreve um evento de escalada (bloqueio emitido).
type Alert struct {
	Type       string    `json:"type"`
	Key        Key       `json:"client_id"`
	Violations int       `json:"violation_count"`
	At         time.Time `json:"timestamp"`
	Severity   string    `json:"severity"`
}

// AlertSink recebe eventos de escalada para notificação downstream.
//
// Falha do sink é best-effort: o gate registra no log e segue; nunca
// propaga para o caminho da requisição.
type AlertSink interface {
	Notify(ctx context.Context, a Alert) error
}
