package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NewKVCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kv",
		Short: "Read and write the account's key-value store",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := opts.apiClient(cmd).ListKV(cmd.Context())
			if err != nil {
				return err
			}
			if opts.JSON {
				return opts.print(cmd.OutOrStdout(), entries, "")
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tVERSION\tVALUE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Key, e.Version, e.Value)
			}
			return tw.Flush()
		},
	})

	var version int64
	put := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Write an entry; --version must match the stored version (0 creates)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.apiClient(cmd).PutKV(cmd.Context(), args[0], args[1], version)
			if err != nil {
				return err
			}
			text := fmt.Sprintf("cursor %d", result.Cursor)
			if result.Entry != nil {
				text = fmt.Sprintf("%s version %d, cursor %d", result.Entry.Key, result.Entry.Version, result.Cursor)
			}
			return opts.print(cmd.OutOrStdout(), result, text)
		},
	}
	put.Flags().Int64Var(&version, "version", 0, "expected current version")
	cmd.AddCommand(put)

	var deleteVersion int64
	del := &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete an entry at the given version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.apiClient(cmd).DeleteKV(cmd.Context(), args[0], deleteVersion)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), result, fmt.Sprintf("deleted, cursor %d", result.Cursor))
		},
	}
	del.Flags().Int64Var(&deleteVersion, "version", 0, "expected current version")
	_ = del.MarkFlagRequired("version")
	cmd.AddCommand(del)

	return cmd
}
