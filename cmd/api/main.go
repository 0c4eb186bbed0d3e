package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"garrison.org/internal/audit"
	"garrison.org/internal/authz"
	"garrison.org/internal/bundle"
	"garrison.org/internal/httpapi"
	"garrison.org/internal/obs"
	"garrison.org/internal/store/pg"
	"garrison.org/internal/stream"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("GARRISON_COMMIT"))

	dsn := os.Getenv("GARRISON_PG_DSN")
	if dsn == "" {
		log.Fatal("GARRISON_PG_DSN is required")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	tokenOpts := []authz.TokenOption{}
	if iss := os.Getenv("GARRISON_TOKEN_ISSUER"); iss != "" {
		tokenOpts = append(tokenOpts, authz.WithIssuer(iss))
	}
	if jwksURL := os.Getenv("GARRISON_JWKS_URL"); jwksURL != "" {
		tokenOpts = append(tokenOpts, authz.WithJWKS(jwksURL, envDuration("GARRISON_JWKS_REFRESH", time.Hour)))
	}
	tokens, err := authz.NewTokens(os.Getenv("GARRISON_AUTH_SECRET"), tokenOpts...)
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	bundles := bundle.New(store, bundle.WithTTL(envDuration("GARRISON_BUNDLE_TTL", bundle.DefaultTTL)))
	feed := stream.New()
	auditor := audit.NewWriter(store, audit.WithSink(feed))

	api := httpapi.New(httpapi.Config{
		Tokens:         tokens,
		Store:          store,
		Bundles:        bundles,
		Auditor:        auditor,
		Feed:           feed,
		Ready:          httpapi.ReadyProbe{DB: store.DB()},
		Version:        version,
		TokenTTL:       envDuration("GARRISON_TOKEN_TTL", time.Hour),
		AllowedOrigins: splitList(os.Getenv("GARRISON_CORS_ORIGINS")),
		RateBurst:      envInt("GARRISON_RATE_BURST", 50),
		RatePerSecond:  envInt("GARRISON_RATE_PER_SECOND", 25),
	})

	addr := os.Getenv("GARRISON_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// Long-lived SSE connections: the write timeout must not cut the
		// audit stream, so keep it generous and rely on client heartbeats.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting garrison-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envDuration(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return d
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("%s: %v", name, err)
	}
	return v
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
