package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/deps"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				out := cmd.OutOrStdout()

				health, err := st.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				dbRows := [][]string{
					{"Path", health.DBPath},
					{"Exists", yesNo(health.DatabaseExists)},
					{"Readable", yesNo(health.DatabaseReadable)},
					{"Schema version", health.SchemaVersion},
					{"Integrity check", yesNo(health.IntegrityCheck)},
					{"Documents", strconv.Itoa(health.TotalDocuments)},
				}
				if health.Error != "" {
					dbRows = append(dbRows, []string{"Error", health.Error})
				}
				fmt.Fprintln(out, renderTable([]string{"Database", "Value"}, dbRows, []columnAlignment{alignLeft, alignLeft}))

				statuses := deps.CheckBinaries(deps.Default(cfg))
				depRows := make([][]string, 0, len(statuses))
				healthy := true
				for _, status := range statuses {
					state := colorize(out, ansiGreen, "ok")
					if !status.Available {
						state = colorize(out, ansiRed, "missing")
						if !status.Optional {
							healthy = false
						}
					}
					detail := status.Detail
					if detail == "" {
						detail = status.Command
					}
					depRows = append(depRows, []string{status.Name, state, detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Dependency", "State", "Detail"}, depRows, []columnAlignment{alignLeft, alignLeft, alignLeft}))

				if !healthy {
					return fmt.Errorf("required dependencies are missing")
				}
				if health.Error != "" || !health.IntegrityCheck {
					return fmt.Errorf("database health check failed")
				}
				fmt.Fprintln(out, "Healthy")
				return nil
			})
		},
	}
}
