package main

import (
	"encoding/json"
	"os"

	"github.com/eteran/meshvault/internal/media"

	"github.com/spf13/cobra"
)

func newReconcileCmd(a *app) *cobra.Command {
	var opts media.ReconcileOptions

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find dangling ledger entries and delete orphaned blobs",
		Long: "Compares the ledger with blob storage for models and thumbnails. Blobs no entry\n" +
			"references are deleted once older than the grace period; entries whose blob is\n" +
			"missing are only reported.",
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := a.cfg.openServer(cmd.Context())
			if err != nil {
				return err
			}
			defer server.Close()

			reports, err := server.Reconcile(cmd.Context(), opts)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(reports)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "report orphans without deleting them")
	cmd.Flags().DurationVar(&opts.GracePeriod, "grace", media.DefaultGracePeriod, "only orphans older than this are deleted")

	return cmd
}
