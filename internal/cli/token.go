package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/prudhvinik1/changesync/internal/utils"
	"github.com/spf13/cobra"
)

func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var deviceType, secret string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token from a server with development issuing enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireAccount(); err != nil {
				return err
			}
			info, err := opts.apiClient(cmd).IssueToken(cmd.Context(), opts.Account, deviceType, secret)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), info, info.Token)
		},
	}
	cmd.Flags().StringVar(&deviceType, "device-type", "cli", "device type recorded in the token")
	cmd.Flags().StringVar(&secret, "secret", "", "issue secret, when the server requires one")
	return cmd
}

// NewHashSecretCommand prints a hash for AUTH_ISSUE_SECRET_HASH. The secret
// is read from stdin so it stays out of shell history.
func NewHashSecretCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret",
		Short: "Hash an issue secret read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read secret: %w", err)
			}
			hash, err := utils.HashSecret(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}
