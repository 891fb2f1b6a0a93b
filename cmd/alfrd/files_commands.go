package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func newFilesCommand(ctx *commandContext) *cobra.Command {
	filesCmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect generated artifact files",
	}

	filesCmd.AddCommand(newFilesListCommand(ctx))

	return filesCmd
}

func newFilesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked artifact files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				files, err := st.ListFiles(cmd.Context())
				if err != nil {
					return err
				}
				if len(files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No files yet")
					return nil
				}

				rows := make([][]string, 0, len(files))
				for _, file := range files {
					owner := "-"
					switch {
					case file.DocumentID != nil:
						owner = "doc " + strconv.FormatInt(*file.DocumentID, 10)
					case file.SeriesID != nil:
						owner = "series " + strconv.FormatInt(*file.SeriesID, 10)
					}
					rows = append(rows, []string{
						strconv.FormatInt(file.ID, 10),
						file.Kind,
						owner,
						string(file.Status),
						strconv.Itoa(file.RetryCount),
						file.Path,
					})
				}
				table := renderTable(
					[]string{"ID", "Kind", "Owner", "Status", "Retries", "Path"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}
