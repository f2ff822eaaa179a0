package main

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth-codegrant/security"
	"github.com/giantswarm/oauth-codegrant/storage"
)

func newGenKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Print a fresh code encryption key and token signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := security.GenerateKey()
			if err != nil {
				return err
			}
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return fmt.Errorf("generate signing key: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "AUTHSERVER_ENCRYPTION_KEY=%s\nAUTHSERVER_SIGNING_KEY=%s\n",
				security.KeyToBase64(key), base64.StdEncoding.EncodeToString(seed))
			return err
		},
	}
}

// newHashCommand prints a bcrypt hash for the registry's secret_hash and password_hash fields.
// The value is read from the argument or, when absent, from the first line of stdin.
func newHashCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash [secret]",
		Short: "Print the bcrypt hash of a client secret or user password",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := cmd.Flags().GetInt("cost")
			if err != nil {
				return err
			}

			var secret string
			if len(args) == 1 {
				secret = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no secret given on the command line or stdin")
				}
				secret = strings.TrimRight(line, "\r\n")
			}

			hash, err := storage.HashClientSecret(secret, cost)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().Int("cost", bcrypt.DefaultCost, fmt.Sprintf("bcrypt cost (%d-%d)", bcrypt.MinCost, bcrypt.MaxCost))
	return cmd
}
