// Package ratelimit fornece o adapter HTTP (net/http) para o rate limit
// multi-janela com bloqueio automático por violações repetidas.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (avaliação em tiers, fachada com escalada) sem net/http
//   - infra: implementações concretas (Redis, memória), detalhes de infraestrutura
//   - ratelimit (este pacote): middleware HTTP + derivação de identidade do
//     cliente + tradução da Decision para status/headers
//
// Fluxo no gateway:
//
//  1. Deriva a identidade do cliente (ip:<addr> ou user:<hash> quando autenticado)
//  2. Resolve o tag do endpoint (ex: "audio", "ai") pelos prefixos de path
//  3. Chama Gate.Evaluate para obter a decisão
//  4. Se negado, responde 429 com X-RateLimit-* e Retry-After
//  5. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_PER_MINUTE, RATE_BURST_LIMIT, RATE_VIOLATION_THRESHOLD e
// RATE_BLOCK_DURATION.
package ratelimit
