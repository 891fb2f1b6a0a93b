package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func newSeriesCommand(ctx *commandContext) *cobra.Command {
	seriesCmd := &cobra.Command{
		Use:   "series",
		Short: "Inspect document series and their reports",
	}

	seriesCmd.AddCommand(newSeriesListCommand(ctx))
	seriesCmd.AddCommand(newSeriesShowCommand(ctx))

	return seriesCmd
}

func newSeriesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known series",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				series, err := st.ListSeries(cmd.Context())
				if err != nil {
					return err
				}
				if len(series) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No series yet")
					return nil
				}

				rows := make([][]string, 0, len(series))
				for _, s := range series {
					prompt := "-"
					if s.ActivePromptID != nil {
						prompt = strconv.FormatInt(*s.ActivePromptID, 10)
					}
					rows = append(rows, []string{
						strconv.FormatInt(s.ID, 10),
						s.Entity,
						s.SeriesType,
						s.Title,
						prompt,
						yesNo(s.RegenerationPending),
					})
				}
				table := renderTable(
					[]string{"ID", "Entity", "Type", "Title", "Prompt", "Regen pending"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newSeriesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one series with its documents and prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid series id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				series, err := st.GetSeries(cmd.Context(), id)
				if err != nil {
					return err
				}
				if series == nil {
					return fmt.Errorf("series %d not found", id)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:             %d\n", series.ID)
				fmt.Fprintf(out, "Entity:         %s\n", series.Entity)
				fmt.Fprintf(out, "Type:           %s\n", series.SeriesType)
				fmt.Fprintf(out, "Title:          %s\n", series.Title)
				if series.ActivePromptID != nil {
					fmt.Fprintf(out, "Active prompt:  %d\n", *series.ActivePromptID)
				}
				fmt.Fprintf(out, "Regen pending:  %s\n", yesNo(series.RegenerationPending))
				fmt.Fprintf(out, "Created:        %s\n", series.CreatedAt.Local().Format(time.DateTime))

				docs, err := st.SeriesDocuments(cmd.Context(), series.ID)
				if err != nil {
					return err
				}
				if len(docs) > 0 {
					rows := make([][]string, 0, len(docs))
					for _, doc := range docs {
						rows = append(rows, []string{
							strconv.FormatInt(doc.ID, 10),
							string(doc.Status),
							doc.DocDate,
							doc.Correspondent,
						})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable(
						[]string{"Document", "Status", "Date", "Correspondent"},
						rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
					))
				}

				prompts, err := st.SeriesPrompts(cmd.Context(), series.ID)
				if err != nil {
					return err
				}
				if len(prompts) > 0 {
					rows := make([][]string, 0, len(prompts))
					for _, prompt := range prompts {
						active := ""
						if series.ActivePromptID != nil && *series.ActivePromptID == prompt.ID {
							active = "yes"
						}
						rows = append(rows, []string{
							strconv.FormatInt(prompt.ID, 10),
							fmt.Sprintf("%.2f", prompt.AverageScore()),
							strconv.Itoa(prompt.ScoreCount),
							active,
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Prompt", "Avg score", "Scores", "Active"},
						rows,
						[]columnAlignment{alignRight, alignRight, alignRight, alignLeft},
					))
				}

				if series.Summary != "" {
					fmt.Fprintf(out, "\n%s\n", series.Summary)
				}
				return nil
			})
		},
	}
}
