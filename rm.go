package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cloudferry/cloudferry/internal/apiclient"
	"github.com/cloudferry/cloudferry/internal/cloudfile"
)

func newRmCmd() *cobra.Command {
	var flagProvider string

	cmd := &cobra.Command{
		Use:   "rm FILE_ID...",
		Short: "Delete files",
		Long: "Delete one or more files by ID. A partially failed batch reports\n" +
			"every file that could not be deleted.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProvider(flagProvider)
			if err != nil {
				return err
			}

			adapter, err := appCtx.Adapter(p)
			if err != nil {
				return err
			}

			refs := make([]cloudfile.Ref, 0, len(args))

			// Resolve names first so partial failures read as file names, not
			// opaque IDs.
			for _, id := range args {
				ref := cloudfile.Ref{ID: id, Name: id}

				if f, err := adapter.GetFile(cmd.Context(), id); err == nil {
					ref.Name = f.Name
				}

				refs = append(refs, ref)
			}

			err = adapter.DeleteFiles(cmd.Context(), refs)

			var partial *apiclient.PartialError
			if errors.As(err, &partial) {
				for _, f := range partial.Failures {
					statusf("failed: %s: %s\n", f.Name, f.Error)
				}
			}

			if err != nil {
				return err
			}

			statusf("deleted %d file(s)\n", len(refs))

			return nil
		},
	}

	cmd.Flags().StringVarP(&flagProvider, "provider", "p", "google", "provider (google, googlephotos, onedrive)")

	return cmd
}
