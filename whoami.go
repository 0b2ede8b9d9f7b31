package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
)

func newWhoamiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the connected account for each provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			providers := []cloudfile.Provider{
				cloudfile.GoogleDrive,
				cloudfile.GooglePhotos,
				cloudfile.OneDrive,
			}

			type identityRow struct {
				Provider  string `json:"provider"`
				Connected bool   `json:"connected"`
				Email     string `json:"email,omitempty"`
				Name      string `json:"name,omitempty"`
			}

			var rows []identityRow

			for _, p := range providers {
				adapter, err := appCtx.Adapter(p)
				if err != nil {
					return err
				}

				// A provider that is not connected is a normal result here,
				// not an error.
				id, err := adapter.Identity(cmd.Context())
				if err != nil {
					return err
				}

				rows = append(rows, identityRow{
					Provider:  p.String(),
					Connected: id.Connected,
					Email:     id.Email,
					Name:      id.Name,
				})
			}

			if flagJSON {
				return printJSON(os.Stdout, rows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

			for _, row := range rows {
				status := "not connected"
				if row.Connected {
					status = row.Email
				}

				fmt.Fprintf(w, "%s\t%s\n", row.Provider, status)
			}

			return w.Flush()
		},
	}

	return cmd
}
