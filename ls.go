package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cloudferry/cloudferry/internal/cloudfile"
	"github.com/cloudferry/cloudferry/internal/provider"
)

func newLsCmd() *cobra.Command {
	var (
		flagProvider string
		flagQuery    string
		flagFolders  bool
		flagAll      bool
	)

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders",
		Long: "List files at a browse path, or search recursively with --query.\n" +
			"Path segments may embed folder IDs as name~id.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseProvider(flagProvider)
			if err != nil {
				return err
			}

			adapter, err := appCtx.Adapter(p)
			if err != nil {
				return err
			}

			path := ""
			if len(args) > 0 {
				path = args[0]
			}

			opts := provider.ListOptions{Path: path, Query: flagQuery}

			list := adapter.ListFiles
			if flagFolders {
				list = adapter.ListFolders
			}

			var files []cloudfile.File

			for {
				result, err := list(cmd.Context(), opts)
				if err != nil {
					return err
				}

				files = append(files, result.Files...)

				if !flagAll || result.NextPageToken == "" {
					break
				}

				opts.PageToken = result.NextPageToken
			}

			if flagJSON {
				return printJSON(os.Stdout, files)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)

			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					f.Kind, formatSize(f.Size), formatTime(f.CreatedAt), f.Name, f.ID)
			}

			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&flagProvider, "provider", "p", "google", "provider (google, googlephotos, onedrive)")
	cmd.Flags().StringVarP(&flagQuery, "query", "Q", "", "recursive name search (ignores path)")
	cmd.Flags().BoolVar(&flagFolders, "folders", false, "list folders only")
	cmd.Flags().BoolVarP(&flagAll, "all", "a", false, "follow pagination to the end")

	return cmd
}
