// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.
// Evita puxar fmt (que é mais “pesado” e genérico) só para formatação simples.

package ratelimit

import (
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
