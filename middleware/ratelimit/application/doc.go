// Package application contém os casos de uso do rate limit multi-janela:
// a avaliação em tiers (Engine) e a fachada com escalada de violações (Gate).
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis.
// Ex.: Gate.Evaluate(ctx, key, tag) retorna uma Decision pronta para virar
// status/headers no adapter HTTP.
package application
