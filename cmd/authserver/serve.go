package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	oauth "github.com/giantswarm/oauth-codegrant"
	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/providers"
	"github.com/giantswarm/oauth-codegrant/providers/mysql"
	"github.com/giantswarm/oauth-codegrant/providers/static"
	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
	"github.com/giantswarm/oauth-codegrant/storage/memory"
	"github.com/giantswarm/oauth-codegrant/storage/valkey"
)

const (
	healthPath  = "/healthz"
	readyPath   = "/readyz"
	metricsPath = "/metrics"

	readinessTimeout = 2 * time.Second
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the /auth and /token endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlag("config", cmd.Flag("config")); err != nil {
				return err
			}
			if _, err := loadConfigFile(v); err != nil {
				return err
			}
			cfg, err := readServeConfig(v)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
			if err != nil {
				return err
			}
			if path := v.ConfigFileUsed(); path != "" {
				logger.Info("Loaded config file", "path", path)
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	addServeFlags(cmd.Flags())
	cobra.CheckErr(bindFlags(v, cmd.Flags()))
	return cmd
}

// readinessCheck reports whether a backend the server depends on is reachable
type readinessCheck struct {
	name string
	ping func(ctx context.Context) error
}

// app is a fully wired server ready to be mounted on a listener
type app struct {
	handler  http.Handler
	checks   []readinessCheck
	closers  []func()
	inst     *instrumentation.Instrumentation
	logger   *slog.Logger
	storeTyp string
}

func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.inst != nil {
		if err := a.inst.Shutdown(ctx); err != nil {
			a.logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}
}

func runServe(ctx context.Context, cfg serveConfig, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting authorization server",
			"addr", cfg.Listen,
			"issuer", cfg.Issuer,
			"store", a.storeTyp,
			"metrics", cfg.Metrics,
			"rate_limit", cfg.RateLimit)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildApp wires stores, verifier, keys and instrumentation into an HTTP handler.
// On error every resource opened so far is released.
func buildApp(ctx context.Context, cfg serveConfig, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger, storeTyp: cfg.Store}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	reg, err := loadRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}

	a.inst, err = instrumentation.New(instrumentation.Config{
		ServiceVersion:  version,
		Enabled:         cfg.instrumentationEnabled(),
		MetricsExporter: cfg.Metrics,
		TraceEndpoint:   cfg.TraceEndpoint,
		TraceInsecure:   cfg.TraceInsecure,
		LogClientIPs:    cfg.LogClientIPs,
	})
	if err != nil {
		return nil, fmt.Errorf("instrumentation: %w", err)
	}

	var (
		clients storage.ClientStore
		codes   storage.CodeStore
	)
	switch cfg.Store {
	case storeValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.ValkeyAddress,
			Password:  cfg.ValkeyPassword,
			DB:        cfg.ValkeyDB,
			KeyPrefix: cfg.ValkeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		store.SetInstrumentation(a.inst)
		a.closers = append(a.closers, store.Close)
		a.checks = append(a.checks, readinessCheck{name: "valkey", ping: store.Ping})
		clients, codes = store, store
	default:
		store := memory.New()
		store.SetLogger(logger)
		store.SetInstrumentation(a.inst)
		a.closers = append(a.closers, store.Stop)
		clients, codes = store, store
	}

	if err := registerClients(ctx, clients, reg.Clients, logger); err != nil {
		return nil, err
	}

	verifier, err := newVerifier(ctx, cfg, reg, logger, a)
	if err != nil {
		return nil, err
	}

	cipher, err := newCipher(cfg.EncryptionKey, logger)
	if err != nil {
		return nil, err
	}
	signer, err := newSigner(cfg.Issuer, cfg.SigningKey, logger)
	if err != nil {
		return nil, err
	}

	srv, err := oauth.NewServer(clients, codes, verifier, cipher, signer, &oauth.ServerConfig{
		Issuer:               cfg.Issuer,
		AuthorizationCodeTTL: int64(cfg.CodeTTL / time.Second),
		AccessTokenTTL:       int64(cfg.TokenTTL / time.Second),
		AllowInsecureHTTP:    cfg.AllowInsecure,
	}, logger)
	if err != nil {
		return nil, err
	}
	srv.SetAuditor(security.NewAuditor(logger, cfg.Audit))
	srv.SetInstrumentation(a.inst)

	handlerConfig := &oauth.HandlerConfig{
		TrustProxy:        cfg.TrustProxy,
		TrustedProxyCount: cfg.TrustedProxyCount,
		HTTPTracing:       cfg.HTTPTracing,
		Logger:            logger,
	}
	if cfg.RateLimit > 0 {
		limiter := security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerSecond: cfg.RateLimit,
			Burst:             cfg.RateBurst,
			Logger:            logger,
		})
		a.closers = append(a.closers, limiter.Stop)
		handlerConfig.RateLimiter = limiter
	}
	handler := oauth.NewHandler(srv, handlerConfig)

	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc(healthPath, serveHealth)
	mux.HandleFunc(readyPath, a.serveReady)
	if cfg.Metrics == instrumentation.MetricsExporterPrometheus {
		mux.Handle(metricsPath, a.inst.PrometheusHandler())
	}
	a.handler = mux

	return a, nil
}

// registerClients saves the registry's clients. A client already present in a
// shared store is left as is.
func registerClients(ctx context.Context, clients storage.ClientStore, entries []registryClient, logger *slog.Logger) error {
	for _, entry := range entries {
		client, err := entry.toClient(0)
		if err != nil {
			return err
		}
		err = clients.SaveClient(ctx, client)
		if errors.Is(err, storage.ErrClientExists) {
			logger.Info("Client already registered, keeping stored entry", "client_id", client.ClientID)
			continue
		}
		if err != nil {
			return fmt.Errorf("register client %q: %w", client.ClientID, err)
		}
	}
	logger.Info("Registered clients", "count", len(entries))
	return nil
}

func newVerifier(ctx context.Context, cfg serveConfig, reg *registry, logger *slog.Logger, a *app) (providers.CredentialVerifier, error) {
	if cfg.MySQLDSN == "" {
		return static.New(reg.Users, logger)
	}
	if len(reg.Users) > 0 {
		logger.Warn("Ignoring registry users, credentials are verified against MySQL", "users", len(reg.Users))
	}
	v, err := mysql.New(ctx, mysql.Config{DSN: cfg.MySQLDSN, Logger: logger})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = v.Close() })
	a.checks = append(a.checks, readinessCheck{name: "mysql", ping: v.Ping})
	return v, nil
}

func newCipher(encoded string, logger *slog.Logger) (*security.SecretCipher, error) {
	var (
		key []byte
		err error
	)
	if encoded == "" {
		logger.Warn("No encryption key configured, generated an ephemeral one; outstanding codes are lost on restart")
		key, err = security.GenerateKey()
	} else {
		key, err = security.KeyFromBase64(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return security.NewSecretCipher(key)
}

func newSigner(issuer, encoded string, logger *slog.Logger) (*security.TokenSigner, error) {
	if encoded == "" {
		logger.Warn("No signing key configured, generated an ephemeral one; issued tokens stop verifying on restart")
		return security.NewTokenSigner(issuer, nil)
	}
	key, err := security.ParseSigningKey(encoded)
	if err != nil {
		return nil, err
	}
	return security.NewTokenSigner(issuer, key)
}

func serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) serveReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := map[string]string{"status": "ready"}
	code := http.StatusOK
	for _, check := range a.checks {
		if err := check.ping(ctx); err != nil {
			a.logger.Warn("Readiness check failed", "backend", check.name, "error", err)
			status["status"] = "unavailable"
			status[check.name] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeStatus(w, code, status)
}

func writeStatus(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
