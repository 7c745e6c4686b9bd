package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func NewCursorCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or change the stored change cursor",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the stored cursor (0 when none)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireAccount(); err != nil {
				return err
			}
			store, err := opts.cursorStore()
			if err != nil {
				return err
			}
			cursor, err := store.ReadCursor(opts.Account)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]int64{"cursor": cursor}, strconv.FormatInt(cursor, 10))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <cursor>",
		Short: "Overwrite the stored cursor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireAccount(); err != nil {
				return err
			}
			cursor, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cursor %q: %w", args[0], err)
			}
			store, err := opts.cursorStore()
			if err != nil {
				return err
			}
			return store.WriteCursor(opts.Account, cursor)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the stored cursor; the next sync starts from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.requireAccount(); err != nil {
				return err
			}
			store, err := opts.cursorStore()
			if err != nil {
				return err
			}
			return store.WriteCursor(opts.Account, 0)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remote",
		Short: "Print the server's current cursor and compaction floor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := opts.apiClient(cmd).GetCursor(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), info, fmt.Sprintf("cursor %d, floor %d", info.Cursor, info.ChangesFloor))
		},
	})

	return cmd
}
