package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"guardian-gateway/middleware/ratelimit"
	"guardian-gateway/middleware/ratelimit/application"
	"guardian-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy),
	// com stores em memória — bom para desenvolvimento, single-instance apenas.
	windows := infra.NewMemoryWindowStore()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	windows.StartJanitor(ctx)

	engine, err := application.NewEngine(windows, nil, nil)
	if err != nil {
		log.Fatalf("engine error: %v", err)
	}

	gate, err := application.NewGate(application.GateOptions{
		Engine: engine,
		Blocks: infra.NewMemoryBlockRegistry(),
		Ledger: infra.NewMemoryViolationLedger(),
		Exempt: nil, // sem isenção: facilita ver o 429 localmente
		Logger: log.Default(),
	})
	if err != nil {
		log.Fatalf("gate error: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	h := http.Handler(mux)
	h = ratelimit.Middleware(ratelimit.Options{
		Gate:                gate,
		Stats:               infra.NewMemoryStatsStore(),
		KeyHeader:           "X-Api-Key", // ou vazio para usar IP
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("example server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
