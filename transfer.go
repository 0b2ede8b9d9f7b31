package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/sessionstore"
	"github.com/cloudferry/cloudferry/internal/transfer"
)

// defaultJournalPath locates the session journal database.
func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cloudferry-sessions.db"
	}

	return filepath.Join(home, ".local", "share", "cloudferry", "sessions.db")
}

// parseSource splits a "provider:fileID" transfer source argument.
func parseSource(arg string) (cloudfile.Provider, string, error) {
	name, id, ok := strings.Cut(arg, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("source %q must be provider:fileID", arg)
	}

	p, err := parseProvider(name)
	if err != nil {
		return "", "", err
	}

	return p, id, nil
}

func newTransferCmd() *cobra.Command {
	var (
		flagWorkers   int
		flagNoJournal bool
	)

	cmd := &cobra.Command{
		Use:   "transfer SOURCE... TARGET_PROVIDER",
		Short: "Transfer files between providers",
		Long: "Transfer one or more files to another provider. Each SOURCE is\n" +
			"provider:fileID; the last argument names the target provider.\n" +
			"Interrupting the command cancels every in-flight transfer and\n" +
			"releases its upload session.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseProvider(args[len(args)-1])
			if err != nil {
				return err
			}

			targetAdapter, err := appCtx.Adapter(target)
			if err != nil {
				return err
			}

			chunkSize, err := appCtx.Cfg.ChunkSizeBytes()
			if err != nil {
				return err
			}

			var journal transfer.JournalReader

			if !flagNoJournal {
				path := defaultJournalPath()
				if mkErr := os.MkdirAll(filepath.Dir(path), 0o700); mkErr == nil {
					store, openErr := sessionstore.New(path, appCtx.Logger)
					if openErr != nil {
						appCtx.Logger.Warn("session journal unavailable", "error", openErr.Error())
					} else {
						journal = store
						defer store.Close()
					}
				}
			}

			registry := transfer.NewRegistry(appCtx.Logger)
			orch := transfer.NewOrchestrator(appCtx.API, registry, journal, chunkSize, appCtx.Logger)

			// Compensate sessions left behind by a previous crash before
			// starting new work.
			reconciler := transfer.NewReconciler(appCtx.API, registry, journal, appCtx.Logger)
			if err := reconciler.Reconcile(cmd.Context()); err != nil {
				appCtx.Logger.Warn("startup reconciliation failed", "error", err.Error())
			}

			workers := flagWorkers
			if workers == 0 {
				workers = appCtx.Cfg.Transfers.Workers
			}

			manager := transfer.NewManager(orch, workers, appCtx.Logger)

			// The process-exit analog of a page unload: an interrupt cancels
			// every record's in-flight request.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				registry.CancelAll()
			}()

			if isatty.IsTerminal(os.Stderr.Fd()) && !flagQuiet {
				unsubscribe := registry.Subscribe(renderProgress)
				defer unsubscribe()
			}

			for _, arg := range args[:len(args)-1] {
				source, fileID, err := parseSource(arg)
				if err != nil {
					return err
				}

				sourceAdapter, err := appCtx.Adapter(source)
				if err != nil {
					return err
				}

				file, err := sourceAdapter.GetFile(ctx, fileID)
				if err != nil {
					return fmt.Errorf("resolving %s: %w", arg, err)
				}

				manager.Enqueue(ctx, file, sourceAdapter, targetAdapter)
			}

			err = manager.Wait()

			if isatty.IsTerminal(os.Stderr.Fd()) && !flagQuiet {
				fmt.Fprintln(os.Stderr)
			}

			for _, rec := range registry.List() {
				switch rec.Status {
				case transfer.StatusCompleted:
					statusf("%s: done\n", rec.FileName)
				case transfer.StatusFailed:
					statusf("%s: failed: %s\n", rec.FileName, rec.Error)
				case transfer.StatusCanceled:
					statusf("%s: canceled\n", rec.FileName)
				}
			}

			return err
		},
	}

	cmd.Flags().IntVar(&flagWorkers, "workers", 0, "concurrent transfers (default from config)")
	cmd.Flags().BoolVar(&flagNoJournal, "no-journal", false, "disable the crash-recovery session journal")

	return cmd
}

// renderProgress draws a single-line composite progress update.
func renderProgress(rec transfer.Record) {
	fmt.Fprintf(os.Stderr, "\r%-30s %3d%% (down %3d%%, up %3d%%)",
		rec.FileName, rec.Percent(), rec.DownloadProgress, rec.UploadProgress)
}
