// Command authserver runs the authorization-code grant server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	cmd := newRootCommand()
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:           "authserver",
		Short:         "authserver issues authorization codes and exchanges them for access tokens",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		Example: `
  # In-memory code store, users and clients from a registry file
  authserver serve --issuer https://auth.example.com --registry ./registry.yaml

  # Valkey code store, MySQL user table, Prometheus metrics
  AUTHSERVER_MYSQL_DSN='auth:secret@tcp(db:3306)/auth' authserver serve \
    --store valkey --valkey-address valkey:6379 --metrics prometheus

  # Generate keys for --encryption-key and --signing-key
  authserver genkey
`,
	}
	cmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file (flags and AUTHSERVER_* variables override it)")

	cmd.AddCommand(newServeCommand(v))
	cmd.AddCommand(newGenKeyCommand())
	cmd.AddCommand(newHashCommand())
	return cmd
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
