package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/storage"
)

func newTestViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.String("config", "", "")
	addServeFlags(flags)
	v := viper.New()
	require.NoError(t, bindFlags(v, flags))
	require.NoError(t, flags.Parse(args))
	return v
}

func TestReadServeConfig_Defaults(t *testing.T) {
	v := newTestViper(t, "--registry", "registry.yaml")

	cfg, err := readServeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "http://localhost:8080", cfg.Issuer)
	assert.Equal(t, storeMemory, cfg.Store)
	assert.Equal(t, 60*time.Second, cfg.CodeTTL)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.True(t, cfg.Audit)
	assert.Equal(t, 1, cfg.TrustedProxyCount)
	assert.False(t, cfg.instrumentationEnabled())
}

func TestReadServeConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"registry: /etc/authserver/registry.yaml",
		"token-ttl: 30m",
		"store: valkey",
		"log-format: text",
	}, "\n")), 0o600))

	t.Setenv("AUTHSERVER_STORE", "memory")
	t.Setenv("AUTHSERVER_METRICS", "prometheus")

	v := newTestViper(t, "--config", path, "--log-format", "json", "--issuer", "https://auth.example.com/")
	used, err := loadConfigFile(v)
	require.NoError(t, err)
	assert.Equal(t, path, used)

	cfg, err := readServeConfig(v)
	require.NoError(t, err)

	assert.Equal(t, "/etc/authserver/registry.yaml", cfg.Registry, "from file")
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL, "from file")
	assert.Equal(t, storeMemory, cfg.Store, "env overrides file")
	assert.Equal(t, "json", cfg.LogFormat, "flag overrides file")
	assert.Equal(t, "https://auth.example.com", cfg.Issuer, "trailing slash trimmed")
	assert.True(t, cfg.instrumentationEnabled())
}

func TestLoadConfigFile(t *testing.T) {
	v := newTestViper(t)
	used, err := loadConfigFile(v)
	require.NoError(t, err)
	assert.Empty(t, used)

	v = newTestViper(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = loadConfigFile(v)
	assert.ErrorContains(t, err, "read config file")
}

func TestServeConfig_Validate(t *testing.T) {
	valid := func() serveConfig {
		return serveConfig{
			Issuer:    "https://auth.example.com",
			Registry:  "registry.yaml",
			Store:     storeMemory,
			LogFormat: "json",
			Metrics:   "none",
			CodeTTL:   time.Minute,
			TokenTTL:  time.Hour,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*serveConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*serveConfig) {}},
		{name: "missing issuer", mutate: func(c *serveConfig) { c.Issuer = "" }, wantErr: "--issuer"},
		{name: "missing registry", mutate: func(c *serveConfig) { c.Registry = "" }, wantErr: "--registry"},
		{name: "unknown store", mutate: func(c *serveConfig) { c.Store = "etcd" }, wantErr: "--store"},
		{name: "valkey without address", mutate: func(c *serveConfig) { c.Store = storeValkey }, wantErr: "--valkey-address"},
		{name: "unknown log format", mutate: func(c *serveConfig) { c.LogFormat = "xml" }, wantErr: "--log-format"},
		{name: "unknown metrics exporter", mutate: func(c *serveConfig) { c.Metrics = "statsd" }, wantErr: "--metrics"},
		{name: "sub-second code ttl", mutate: func(c *serveConfig) { c.CodeTTL = 1500 * time.Millisecond }, wantErr: "--code-ttl"},
		{name: "zero token ttl", mutate: func(c *serveConfig) { c.TokenTTL = 0 }, wantErr: "--token-ttl"},
		{name: "negative rate limit", mutate: func(c *serveConfig) { c.RateLimit = -1 }, wantErr: "--rate-limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	require.NoError(t, err)
	logger.Info("dropped")
	logger.Warn("kept", "key", "value")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)

	buf.Reset()
	logger, err = newLogger(&buf, "text", "debug")
	require.NoError(t, err)
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")

	_, err = newLogger(&buf, "json", "loud")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestParseRegistry(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
		check   func(t *testing.T, reg *registry)
	}{
		{
			name: "clients and users",
			input: `
clients:
  - id: c1
    name: Demo app
    secret: s1
    redirect_url: https://app/cb
  - id: c2
    secret_hash: $2a$04$abcdefghijklmnopqrstuuN7YqN9B3bV1o1y0wBq7l2s6QX9xw3a6
    redirect_url: https://other/cb
users:
  - name: alice
    password_hash: $2a$04$abcdefghijklmnopqrstuuN7YqN9B3bV1o1y0wBq7l2s6QX9xw3a6
    display_name: Alice
`,
			check: func(t *testing.T, reg *registry) {
				require.Len(t, reg.Clients, 2)
				assert.Equal(t, "c1", reg.Clients[0].ID)
				assert.Equal(t, "Demo app", reg.Clients[0].Name)
				assert.Equal(t, "https://other/cb", reg.Clients[1].RedirectURL)
				require.Len(t, reg.Users, 1)
				assert.Equal(t, "alice", reg.Users[0].Name)
				assert.Equal(t, "Alice", reg.Users[0].DisplayName)
			},
		},
		{
			name:  "empty file",
			input: "",
			check: func(t *testing.T, reg *registry) {
				assert.Empty(t, reg.Clients)
				assert.Empty(t, reg.Users)
			},
		},
		{name: "missing id", input: "clients:\n  - secret: s\n    redirect_url: https://app/cb\n", wantErr: "id is required"},
		{name: "missing redirect", input: "clients:\n  - id: c1\n    secret: s\n", wantErr: "redirect_url is required"},
		{name: "missing secret", input: "clients:\n  - id: c1\n    redirect_url: https://app/cb\n", wantErr: "secret or secret_hash"},
		{name: "both secrets", input: "clients:\n  - id: c1\n    secret: s\n    secret_hash: h\n    redirect_url: https://app/cb\n", wantErr: "only one"},
		{name: "duplicate", input: "clients:\n  - {id: c1, secret: s, redirect_url: https://a/cb}\n  - {id: c1, secret: t, redirect_url: https://b/cb}\n", wantErr: "duplicate"},
		{name: "unknown field", input: "clients:\n  - id: c1\n    secret: s\n    redirect_uri: https://app/cb\n", wantErr: "parse registry"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := parseRegistry(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, reg)
		})
	}
}

func TestRegistryClient_ToClient(t *testing.T) {
	plain := registryClient{ID: "c1", Name: "Demo", Secret: "s1", RedirectURL: "https://app/cb"}
	client, err := plain.toClient(bcrypt.MinCost)
	require.NoError(t, err)
	assert.Equal(t, "c1", client.ClientID)
	assert.Equal(t, "Demo", client.ClientName)
	assert.True(t, storage.CompareClientSecret(client, "s1"))
	assert.False(t, storage.CompareClientSecret(client, "s2"))

	hashed := registryClient{ID: "c2", SecretHash: client.ClientSecretHash, RedirectURL: "https://other/cb"}
	client2, err := hashed.toClient(bcrypt.MinCost)
	require.NoError(t, err)
	assert.Equal(t, client.ClientSecretHash, client2.ClientSecretHash)
}
