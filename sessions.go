package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudferry/cloudferry/internal/push"
	"github.com/cloudferry/cloudferry/internal/transfer"
)

func newSessionsCmd() *cobra.Command {
	var flagWatch bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Show transfers still running server-side",
		Long: "List the broker's in-progress upload sessions for this user.\n" +
			"With --watch, stay connected to the push channel and print live\n" +
			"progress and status updates.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry := transfer.NewRegistry(appCtx.Logger)
			reconciler := transfer.NewReconciler(appCtx.API, registry, nil, appCtx.Logger)

			if err := reconciler.Reconcile(cmd.Context()); err != nil {
				return err
			}

			records := registry.List()

			if flagJSON && !flagWatch {
				return printJSON(os.Stdout, records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSESSION\tSTATUS\tPROGRESS")

			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\n",
					rec.FileName, rec.SessionID, rec.Status, rec.UploadProgress)
			}

			if err := w.Flush(); err != nil {
				return err
			}

			if !flagWatch {
				return nil
			}

			if !appCtx.Cfg.Push.Enabled {
				return fmt.Errorf("push channel is disabled in config (push.enabled = false)")
			}

			if appCtx.Cfg.Push.URL == "" {
				return fmt.Errorf("no push URL configured: set push.url or %s", "CLOUDFERRY_PUSH_URL")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := push.NewClient(appCtx.Cfg.Push.URL, appCtx.Cfg.API.UserID, func(ev push.Event) {
				reconciler.Apply(ev)

				if rec, ok := registry.Get(ev.FileID); ok {
					statusf("%s: %s %d%%\n", rec.FileName, rec.Status, rec.UploadProgress)
				}
			}, appCtx.Logger)

			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}

			return nil
		},
	}

	cmd.Flags().BoolVarP(&flagWatch, "watch", "w", false, "stream live updates from the push channel")

	return cmd
}
