package main

import (
	"github.com/spf13/cobra"
)

func newMkdirCmd() *cobra.Command {
	var (
		flagProvider string
		flagPath     string
	)

	cmd := &cobra.Command{
		Use:   "mkdir NAME",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProvider(flagProvider)
			if err != nil {
				return err
			}

			adapter, err := appCtx.Adapter(p)
			if err != nil {
				return err
			}

			if err := adapter.CreateFolder(cmd.Context(), args[0], flagPath); err != nil {
				return err
			}

			statusf("created folder %q\n", args[0])

			return nil
		},
	}

	cmd.Flags().StringVarP(&flagProvider, "provider", "p", "google", "provider (google, googlephotos, onedrive)")
	cmd.Flags().StringVar(&flagPath, "path", "", "parent browse path (segments may embed IDs as name~id)")

	return cmd
}
