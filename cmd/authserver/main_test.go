package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/security"
)

func executeRootCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestGenKeyCommand(t *testing.T) {
	stdout, err := executeRootCommand(t, "", "genkey")
	require.NoError(t, err)

	values := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		name, value, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		values[name] = value
	}

	key, err := security.KeyFromBase64(values["AUTHSERVER_ENCRYPTION_KEY"])
	require.NoError(t, err)
	assert.Len(t, key, security.KeySize)

	signingKey, err := security.ParseSigningKey(values["AUTHSERVER_SIGNING_KEY"])
	require.NoError(t, err)
	_, err = security.NewTokenSigner("https://auth.example.com", signingKey)
	assert.NoError(t, err)
}

func TestHashCommand(t *testing.T) {
	tests := []struct {
		name   string
		stdin  string
		args   []string
		secret string
	}{
		{name: "argument", args: []string{"hash", "--cost", "4", "s3cret"}, secret: "s3cret"},
		{name: "stdin", stdin: "wonderland\n", args: []string{"hash", "--cost", "4"}, secret: "wonderland"},
		{name: "stdin without newline", stdin: "wonderland", args: []string{"hash", "--cost", "4"}, secret: "wonderland"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, err := executeRootCommand(t, tt.stdin, tt.args...)
			require.NoError(t, err)
			hash := strings.TrimSpace(stdout)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(tt.secret)))
			cost, err := bcrypt.Cost([]byte(hash))
			require.NoError(t, err)
			assert.Equal(t, 4, cost)
		})
	}

	_, err := executeRootCommand(t, "", "hash")
	assert.ErrorContains(t, err, "no secret")
}

func TestServeCommand_InvalidConfig(t *testing.T) {
	t.Setenv("AUTHSERVER_REGISTRY", "")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing registry", args: []string{"serve"}, wantErr: "--registry is required"},
		{name: "unknown store", args: []string{"serve", "--registry", "r.yaml", "--store", "etcd"}, wantErr: "--store"},
		{name: "bad log level", args: []string{"serve", "--registry", "r.yaml", "--log-level", "loud"}, wantErr: "invalid log level"},
		{name: "stray argument", args: []string{"serve", "extra"}, wantErr: "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeRootCommand(t, "", tt.args...)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
