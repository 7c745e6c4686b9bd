package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/adrg/xdg"
	"github.com/prudhvinik1/changesync/internal/client"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server   string
	Token    string
	Account  string
	Settings string
	Verbose  bool
	JSON     bool
}

// NewRootCommand creates the root command for syncctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncctl",
		Short: "Client for the changesync server",
		Long: `syncctl pulls an account's change stream from a changesync server,
keeps the last applied cursor in a local settings file and resyncs when the
server reports the cursor gone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr("CHANGESYNC_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("CHANGESYNC_TOKEN"), "bearer token")
	cmd.PersistentFlags().StringVar(&opts.Account, "account", os.Getenv("CHANGESYNC_ACCOUNT"), "account id")
	cmd.PersistentFlags().StringVar(&opts.Settings, "settings", "", "settings file (default $XDG_CONFIG_HOME/changesync/settings.json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "print JSON")

	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewCursorCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewKVCommand(opts))
	cmd.AddCommand(NewHashSecretCommand())

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) settingsPath() (string, error) {
	if o.Settings != "" {
		return o.Settings, nil
	}
	path, err := xdg.ConfigFile("changesync/settings.json")
	if err != nil {
		return "", fmt.Errorf("failed to resolve settings path: %w", err)
	}
	return path, nil
}

func (o *RootOptions) cursorStore() (*client.CursorStore, error) {
	path, err := o.settingsPath()
	if err != nil {
		return nil, err
	}
	return client.NewCursorStore(path), nil
}

func (o *RootOptions) apiClient(cmd *cobra.Command) *client.APIClient {
	var logger *slog.Logger
	if o.Verbose {
		logger = o.logger(cmd)
	}
	return client.NewAPIClient(o.Server, o.Token, logger)
}

func (o *RootOptions) requireAccount() error {
	if o.Account == "" {
		return errors.New("--account (or CHANGESYNC_ACCOUNT) is required")
	}
	return nil
}

// print writes v as indented JSON with --json, or text otherwise.
func (o *RootOptions) print(w io.Writer, v any, text string) error {
	if o.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
