package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/providers/static"
	"github.com/giantswarm/oauth-codegrant/server"
	"github.com/giantswarm/oauth-codegrant/storage"
)

const envPrefix = "AUTHSERVER"

// Code store backends.
const (
	storeMemory = "memory"
	storeValkey = "valkey"
)

type serveConfig struct {
	Listen          string
	Issuer          string
	Registry        string
	EncryptionKey   string
	SigningKey      string
	CodeTTL         time.Duration
	TokenTTL        time.Duration
	AllowInsecure   bool
	ShutdownTimeout time.Duration

	Store          string
	ValkeyAddress  string
	ValkeyPassword string
	ValkeyDB       int
	ValkeyPrefix   string
	MySQLDSN       string

	LogFormat string
	LogLevel  string
	Audit     bool

	RateLimit         float64
	RateBurst         int
	TrustProxy        bool
	TrustedProxyCount int

	Metrics       string
	TraceEndpoint string
	TraceInsecure bool
	HTTPTracing   bool
	LogClientIPs  bool
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.String("listen", ":8080", "listen address")
	flags.String("issuer", "http://localhost:8080", "issuer identifier stamped on access tokens")
	flags.String("registry", "", "YAML file with the registered clients and static users")
	flags.String("encryption-key", "", "base64 AES-256 key sealing authorization codes (generated when empty)")
	flags.String("signing-key", "", "base64 Ed25519 seed or private key signing access tokens (generated when empty)")
	flags.Duration("code-ttl", server.DefaultAuthorizationCodeTTL*time.Second, "authorization code lifetime")
	flags.Duration("token-ttl", server.DefaultAccessTokenTTL*time.Second, "access token lifetime")
	flags.Bool("allow-insecure-http", false, "allow a non-localhost http:// issuer")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	flags.String("store", storeMemory, "authorization code store (memory, valkey)")
	flags.String("valkey-address", "localhost:6379", "valkey address")
	flags.String("valkey-password", "", "valkey password")
	flags.Int("valkey-db", 0, "valkey database number")
	flags.String("valkey-prefix", "", "valkey key prefix (default \"oauth:\")")
	flags.String("mysql-dsn", "", "MySQL DSN of the user table; static users from the registry are used when empty")

	flags.String("log-format", "json", "log format (json, text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("audit", true, "emit security audit events")

	flags.Float64("rate-limit", 10, "requests per second per client IP on /auth and /token (0 disables)")
	flags.Int("rate-burst", 20, "rate limiter burst")
	flags.Bool("trust-proxy", false, "take the client IP from X-Forwarded-For")
	flags.Int("trusted-proxy-count", 1, "number of reverse proxies in front of the server")

	flags.String("metrics", instrumentation.MetricsExporterNone, "metrics exporter served on /metrics (none, prometheus)")
	flags.String("trace-endpoint", "", "OTLP/HTTP trace collector host:port (empty disables)")
	flags.Bool("trace-insecure", false, "send traces over plain HTTP")
	flags.Bool("http-tracing", false, "create a server span per HTTP request")
	flags.Bool("log-client-ips", false, "add client IPs to spans")
}

// bindFlags makes every flag of flags resolvable through v, with AUTHSERVER_*
// environment variables and the config file as fallbacks.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if err := v.BindPFlag(f.Name, f); err != nil {
			errs = append(errs, fmt.Errorf("bind flag %q: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// loadConfigFile reads the --config file (or AUTHSERVER_CONFIG) into v.
// It returns the path read, or "" when none was given.
func loadConfigFile(v *viper.Viper) (string, error) {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return "", nil
	}
	path, err := expandPath(path)
	if err != nil {
		return "", err
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %s: %w", path, err)
	}
	return path, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}

func readServeConfig(v *viper.Viper) (serveConfig, error) {
	cfg := serveConfig{
		Listen:          v.GetString("listen"),
		Issuer:          strings.TrimRight(v.GetString("issuer"), "/"),
		Registry:        v.GetString("registry"),
		EncryptionKey:   v.GetString("encryption-key"),
		SigningKey:      v.GetString("signing-key"),
		CodeTTL:         v.GetDuration("code-ttl"),
		TokenTTL:        v.GetDuration("token-ttl"),
		AllowInsecure:   v.GetBool("allow-insecure-http"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),

		Store:          strings.ToLower(v.GetString("store")),
		ValkeyAddress:  v.GetString("valkey-address"),
		ValkeyPassword: v.GetString("valkey-password"),
		ValkeyDB:       v.GetInt("valkey-db"),
		ValkeyPrefix:   v.GetString("valkey-prefix"),
		MySQLDSN:       v.GetString("mysql-dsn"),

		LogFormat: strings.ToLower(v.GetString("log-format")),
		LogLevel:  v.GetString("log-level"),
		Audit:     v.GetBool("audit"),

		RateLimit:         v.GetFloat64("rate-limit"),
		RateBurst:         v.GetInt("rate-burst"),
		TrustProxy:        v.GetBool("trust-proxy"),
		TrustedProxyCount: v.GetInt("trusted-proxy-count"),

		Metrics:       strings.ToLower(v.GetString("metrics")),
		TraceEndpoint: v.GetString("trace-endpoint"),
		TraceInsecure: v.GetBool("trace-insecure"),
		HTTPTracing:   v.GetBool("http-tracing"),
		LogClientIPs:  v.GetBool("log-client-ips"),
	}
	return cfg, cfg.validate()
}

func (c serveConfig) validate() error {
	switch {
	case c.Issuer == "":
		return errors.New("--issuer is required")
	case c.Registry == "":
		return errors.New("--registry is required")
	case c.Store != storeMemory && c.Store != storeValkey:
		return fmt.Errorf("unsupported --store %q (memory, valkey)", c.Store)
	case c.Store == storeValkey && c.ValkeyAddress == "":
		return errors.New("--valkey-address is required for the valkey store")
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("unsupported --log-format %q (json, text)", c.LogFormat)
	case c.Metrics != instrumentation.MetricsExporterNone && c.Metrics != instrumentation.MetricsExporterPrometheus:
		return fmt.Errorf("unsupported --metrics %q (none, prometheus)", c.Metrics)
	case c.CodeTTL < time.Second || c.CodeTTL%time.Second != 0:
		return fmt.Errorf("--code-ttl must be a whole number of seconds, got %s", c.CodeTTL)
	case c.TokenTTL < time.Second || c.TokenTTL%time.Second != 0:
		return fmt.Errorf("--token-ttl must be a whole number of seconds, got %s", c.TokenTTL)
	case c.RateLimit < 0:
		return errors.New("--rate-limit cannot be negative")
	}
	return nil
}

func (c serveConfig) instrumentationEnabled() bool {
	return c.Metrics != instrumentation.MetricsExporterNone || c.TraceEndpoint != ""
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), nil
}

// registry is the file format of --registry.
type registry struct {
	Clients []registryClient `yaml:"clients"`
	Users   []static.User    `yaml:"users"`
}

// registryClient holds either a bcrypt secret_hash or a plain secret that is
// hashed on load.
type registryClient struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name,omitempty"`
	Secret      string `yaml:"secret,omitempty"`
	SecretHash  string `yaml:"secret_hash,omitempty"`
	RedirectURL string `yaml:"redirect_url"`
}

func loadRegistry(path string) (*registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()
	return parseRegistry(f)
}

func parseRegistry(r io.Reader) (*registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	reg := &registry{}
	if err := dec.Decode(reg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	seen := make(map[string]struct{}, len(reg.Clients))
	for i, c := range reg.Clients {
		switch {
		case c.ID == "":
			return nil, fmt.Errorf("client %d: id is required", i)
		case c.RedirectURL == "":
			return nil, fmt.Errorf("client %q: redirect_url is required", c.ID)
		case c.Secret == "" && c.SecretHash == "":
			return nil, fmt.Errorf("client %q: secret or secret_hash is required", c.ID)
		case c.Secret != "" && c.SecretHash != "":
			return nil, fmt.Errorf("client %q: set only one of secret and secret_hash", c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return nil, fmt.Errorf("client %q: duplicate entry", c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	return reg, nil
}

// toClient converts the entry, hashing a plain secret with cost (0 for the bcrypt default).
func (c registryClient) toClient(cost int) (*storage.Client, error) {
	hash := c.SecretHash
	if hash == "" {
		var err error
		if hash, err = storage.HashClientSecret(c.Secret, cost); err != nil {
			return nil, fmt.Errorf("client %q: %w", c.ID, err)
		}
	}
	return &storage.Client{
		ClientID:         c.ID,
		ClientSecretHash: hash,
		RedirectURL:      c.RedirectURL,
		ClientName:       c.Name,
	}, nil
}
