package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hatemosphere/inventory-backend/internal/api"
	"github.com/hatemosphere/inventory-backend/internal/audit"
	"github.com/hatemosphere/inventory-backend/internal/auth"
	"github.com/hatemosphere/inventory-backend/internal/config"
	"github.com/hatemosphere/inventory-backend/internal/storage"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func main() {
	cfg := config.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Configure logging format and level.
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(logHandler))

	// Disable audit logging if configured.
	if !cfg.AuditLogs {
		audit.Enabled = false
	}

	// Open storage.
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}

	validator, err := newTokenValidator(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create token validator: %v\n", err)
		os.Exit(1)
	}

	var provider auth.IdentityProvider = auth.NewStoreProvider(store)
	var cache *auth.CachedProvider
	if cfg.IdentityCacheSize > 0 {
		cache = auth.NewCachedProvider(provider, cfg.IdentityCacheSize, cfg.IdentityCacheTTL, cfg.LookupTimeout)
		provider = cache
		slog.Info("identity cache enabled", "size", cfg.IdentityCacheSize, "ttl", cfg.IdentityCacheTTL)
	}
	resolver := auth.NewIdentityResolver(provider, cfg.LookupTimeout)
	authenticator := auth.NewRequestAuthenticator(validator, resolver)

	if cfg.UsersFile != "" {
		if err := syncUsers(context.Background(), store, cfg, cache); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load users: %v\n", err)
			os.Exit(1)
		}
	}

	serverOpts := []api.ServerOption{api.WithReadiness(store)}
	if cfg.TrustedProxies != "" {
		proxies, err := api.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid trusted-proxies: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithTrustedProxies(proxies))
		slog.Info("trusted proxies configured", "cidrs", cfg.TrustedProxies)
	}

	// Initialize OpenTelemetry tracing if configured.
	var tp *sdktrace.TracerProvider
	if cfg.OTelServiceName != "" {
		tp, err = initTracer(context.Background(), cfg.OTelServiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize OpenTelemetry: %v\n", err)
			os.Exit(1)
		}
		slog.Info("OpenTelemetry tracing enabled", "service", cfg.OTelServiceName)
	}

	srv := api.NewServer(authenticator, serverOpts...)

	handler := srv.Router()
	if tp != nil {
		handler = otelhttp.NewHandler(handler, cfg.OTelServiceName)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Reload the users file on SIGHUP.
	if cfg.UsersFile != "" {
		go func() {
			hupCh := make(chan os.Signal, 1)
			signal.Notify(hupCh, syscall.SIGHUP)
			for range hupCh {
				if err := syncUsers(context.Background(), store, cfg, cache); err != nil {
					slog.Error("users reload failed", "file", cfg.UsersFile, "error", err)
				}
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())

		// Give in-flight requests 30 seconds to complete.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("inventory backend starting", "addr", cfg.Addr, "tls", cfg.TLS)

	if cfg.TLS {
		err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done

	if tp != nil {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("tracer provider shutdown error", "error", err)
		}
	}
	store.Close()
	slog.Info("shutdown complete")
}

// newTokenValidator builds the OIDC validator when an issuer is configured,
// otherwise the local-key JWT validator.
func newTokenValidator(cfg *config.Config) (auth.TokenValidator, error) {
	if cfg.OIDCIssuer != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		v, err := auth.NewOIDCValidator(ctx, auth.OIDCConfig{
			Issuer:       cfg.OIDCIssuer,
			ClientID:     cfg.OIDCClientID,
			SubjectClaim: cfg.JWTSubjectClaim,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("bearer authentication: oidc",
			"issuer", cfg.OIDCIssuer,
			"client_id", cfg.OIDCClientID,
			"subject_claim", cfg.JWTSubjectClaim,
			"lookup_timeout", cfg.LookupTimeout,
		)
		return v, nil
	}

	v, err := auth.NewJWTValidator(auth.JWTConfig{
		SigningKey:   cfg.JWTSigningKey,
		Issuer:       cfg.JWTIssuer,
		Audience:     cfg.JWTAudience,
		SubjectClaim: cfg.JWTSubjectClaim,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("bearer authentication: jwt",
		"issuer", cfg.JWTIssuer,
		"audience", cfg.JWTAudience,
		"subject_claim", cfg.JWTSubjectClaim,
		"lookup_timeout", cfg.LookupTimeout,
	)
	return v, nil
}

// syncUsers applies the users file and drops cached principals for every
// account it changed. cache may be nil.
func syncUsers(ctx context.Context, store storage.UserStore, cfg *config.Config, cache *auth.CachedProvider) error {
	seed, err := storage.LoadSeedFile(cfg.UsersFile)
	if err != nil {
		return err
	}
	res, err := storage.Sync(ctx, store, seed, cfg.UsersPrune)
	if err != nil {
		return err
	}
	if cache != nil {
		for _, email := range res.Changed() {
			cache.Invalidate(email)
		}
	}
	audit.Event{
		Outcome: "users_synced",
		Reason:  fmt.Sprintf("%d upserted, %d deleted from %s", len(res.Upserted), len(res.Deleted), cfg.UsersFile),
	}.Info("Audit Log: users synced")
	return nil
}

// initTracer sets up an OTLP gRPC trace exporter and returns the TracerProvider.
// Exporter endpoint is configured via standard OTEL_EXPORTER_OTLP_ENDPOINT env var
// (default: localhost:4317).
func initTracer(ctx context.Context, serviceName string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}
