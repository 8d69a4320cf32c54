// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowStore: janela deslizante sobre ZSET, com script Lua para
//     expira+conta+insere atômico
//   - RedisViolationLedger / RedisBlockRegistry: escalada de violações
//   - RedisAlertSink: lista de alertas de segurança com throttle
//   - Memory*: variantes em memória para testes e deploy single-instance
package infra
