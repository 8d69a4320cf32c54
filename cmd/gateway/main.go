package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"guardian-gateway/middleware/ratelimit"
	"guardian-gateway/middleware/ratelimit/application"
	"guardian-gateway/middleware/ratelimit/domain"
	"guardian-gateway/middleware/ratelimit/infra"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		log.Fatalf("invalid UPSTREAM_URL: %v", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("proxy error: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		windows domain.WindowStore
		ledger  domain.ViolationLedger
		blocks  domain.BlockRegistry
		alerts  domain.AlertSink
		stats   domain.StatsStore
	)

	if cfg.storeBackend == "memory" {
		// single-instance apenas: contadores em memória não valem entre réplicas
		mem := infra.NewMemoryWindowStore()
		mem.StartJanitor(ctx)
		windows = mem
		ledger = infra.NewMemoryViolationLedger(infra.WithMemoryLedgerTTL(cfg.violationTTL))
		blocks = infra.NewMemoryBlockRegistry()
	} else {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			log.Fatalf("redis ping error: %v", err)
		}

		windows, err = infra.NewRedisWindowStore(rdb)
		if err != nil {
			log.Fatalf("window store error: %v", err)
		}
		ledger, err = infra.NewRedisViolationLedger(rdb, infra.WithLedgerTTL(cfg.violationTTL))
		if err != nil {
			log.Fatalf("violation ledger error: %v", err)
		}
		blocks, err = infra.NewRedisBlockRegistry(rdb)
		if err != nil {
			log.Fatalf("block registry error: %v", err)
		}
		if cfg.alertsEnabled {
			alerts, err = infra.NewRedisAlertSink(rdb)
			if err != nil {
				log.Fatalf("alert sink error: %v", err)
			}
		}
		if cfg.statsEnabled {
			stats = infra.NewRedisStatsStore(rdb, infra.WithStatsTrackKeys(cfg.statsTrackKeys))
		}
	}

	defaults := []domain.Policy{
		{Tier: domain.LimitBurst, Window: cfg.burstWindow, Cap: cfg.burstLimit},
		{Tier: domain.LimitMinute, Window: time.Minute, Cap: cfg.perMinute},
		{Tier: domain.LimitHour, Window: time.Hour, Cap: cfg.perHour},
		{Tier: domain.LimitDay, Window: 24 * time.Hour, Cap: cfg.perDay},
	}

	engine, err := application.NewEngine(windows, defaults, endpointOverrides(cfg))
	if err != nil {
		log.Fatalf("engine error: %v", err)
	}

	gate, err := application.NewGate(application.GateOptions{
		Engine:             engine,
		Blocks:             blocks,
		Ledger:             ledger,
		Alerts:             alerts,
		Exempt:             cfg.exemptKeys,
		ViolationThreshold: cfg.violationThreshold,
		BlockDuration:      cfg.blockDuration,
		StoreTimeout:       cfg.storeTimeout,
		Logger:             log.Default(),
	})
	if err != nil {
		log.Fatalf("gate error: %v", err)
	}

	h := http.Handler(proxy)
	h = ratelimit.Middleware(ratelimit.Options{
		Gate:                gate,
		Stats:               stats,
		KeyHeader:           cfg.keyHeader,
		TrustXForwardedFor:  cfg.trustXFF,
		EndpointTags:        endpointTags(),
		SkipPaths:           []string{"/static/", "/favicon.ico", "/.well-known/"},
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: cfg.addHeaders,
	})(h)

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("gateway listening on %s -> %s", cfg.listenAddr, target)
	log.Printf("rate: store=%s burst=%d/%s minute=%d hour=%d day=%d", cfg.storeBackend, cfg.burstLimit, cfg.burstWindow, cfg.perMinute, cfg.perHour, cfg.perDay)
	log.Printf("escalation: threshold=%d within=%s blockDuration=%s alerts=%v", cfg.violationThreshold, cfg.violationTTL, cfg.blockDuration, cfg.alertsEnabled)
	log.Printf("identity: keyHeader=%q trustXFF=%v exempt=%d", cfg.keyHeader, cfg.trustXFF, len(cfg.exemptKeys))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server error: %v", err)
	}
}

// endpointTags mapeia prefixos de path para tags de endpoint, prefixos mais
// específicos primeiro.
func endpointTags() []ratelimit.PathTag {
	return []ratelimit.PathTag{
		{Prefix: "/auth/", Tag: "auth"},
		{Prefix: "/ai/generate", Tag: "ai"},
		{Prefix: "/audio/", Tag: "audio"},
		{Prefix: "/esp32/", Tag: "esp32"},
		{Prefix: "/dashboard/", Tag: "dashboard"},
		{Prefix: "/reports/", Tag: "reports"},
	}
}

// endpointOverrides aperta (ou afrouxa) o tier de minuto por endpoint,
// mantendo burst/hora/dia dos defaults. Endpoints de áudio/IA são mais
// caros e ganham caps menores que dashboard/relatórios.
func endpointOverrides(cfg config) map[string][]domain.Policy {
	withMinute := func(capPerMinute int) []domain.Policy {
		return []domain.Policy{
			{Tier: domain.LimitBurst, Window: cfg.burstWindow, Cap: cfg.burstLimit},
			{Tier: domain.LimitMinute, Window: time.Minute, Cap: capPerMinute},
			{Tier: domain.LimitHour, Window: time.Hour, Cap: cfg.perHour},
			{Tier: domain.LimitDay, Window: 24 * time.Hour, Cap: cfg.perDay},
		}
	}
	return map[string][]domain.Policy{
		"auth":      withMinute(5),
		"ai":        withMinute(20),
		"audio":     withMinute(15),
		"esp32":     withMinute(30),
		"dashboard": withMinute(100),
		"reports":   withMinute(30),
	}
}

type config struct {
	listenAddr  string
	upstreamURL string

	storeBackend  string
	redisAddr     string
	redisPassword string
	redisDB       int

	perMinute   int
	perHour     int
	perDay      int
	burstLimit  int
	burstWindow time.Duration

	violationThreshold int
	violationTTL       time.Duration
	blockDuration      time.Duration
	storeTimeout       time.Duration

	exemptKeys []domain.Key
	keyHeader  string
	trustXFF   bool
	addHeaders bool

	alertsEnabled  bool
	statsEnabled   bool
	statsTrackKeys bool
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.storeBackend = strings.ToLower(getenvDefault("STORE", "redis"))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "localhost:6379")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	cfg.perMinute = getenvIntDefault("RATE_PER_MINUTE", 60)
	cfg.perHour = getenvIntDefault("RATE_PER_HOUR", 600)
	cfg.perDay = getenvIntDefault("RATE_PER_DAY", 5000)
	cfg.burstLimit = getenvIntDefault("RATE_BURST_LIMIT", 10)
	cfg.burstWindow = getenvDurationDefault("RATE_BURST_WINDOW", 10*time.Second)

	cfg.violationThreshold = getenvIntDefault("RATE_VIOLATION_THRESHOLD", 5)
	cfg.violationTTL = getenvDurationDefault("RATE_VIOLATION_TTL", time.Hour)
	cfg.blockDuration = getenvDurationDefault("RATE_BLOCK_DURATION", 60*time.Minute)
	cfg.storeTimeout = getenvDurationDefault("RATE_STORE_TIMEOUT", 200*time.Millisecond)

	// loopback sempre isento por padrão
	for _, k := range strings.Split(getenvDefault("RATE_EXEMPT_KEYS", "ip:127.0.0.1,ip:::1"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.exemptKeys = append(cfg.exemptKeys, domain.Key(k))
		}
	}

	cfg.keyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", true)

	cfg.alertsEnabled = getenvBoolDefault("ALERTS_ENABLED", true)
	cfg.statsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.statsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.storeBackend != "redis" && cfg.storeBackend != "memory" {
		return config{}, errors.New("STORE must be redis or memory")
	}
	if cfg.perMinute <= 0 || cfg.perHour <= 0 || cfg.perDay <= 0 {
		return config{}, errors.New("RATE_PER_MINUTE/HOUR/DAY must be > 0")
	}
	if cfg.burstLimit <= 0 || cfg.burstWindow <= 0 {
		return config{}, errors.New("RATE_BURST_LIMIT and RATE_BURST_WINDOW must be > 0")
	}
	if cfg.violationThreshold <= 0 {
		return config{}, errors.New("RATE_VIOLATION_THRESHOLD must be > 0")
	}
	if cfg.blockDuration <= 0 {
		return config{}, errors.New("RATE_BLOCK_DURATION must be > 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
