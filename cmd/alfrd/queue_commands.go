package main

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the document queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List documents in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				var statuses []store.Status
				for _, value := range listStatuses {
					status, ok := store.ParseStatus(value)
					if !ok {
						return fmt.Errorf("unknown status %q", value)
					}
					statuses = append(statuses, status)
				}

				docs, err := st.ListDocuments(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(docs))
				for _, doc := range docs {
					rows = append(rows, []string{
						strconv.FormatInt(doc.ID, 10),
						filepath.Base(doc.SourcePath),
						string(doc.Status),
						doc.DocType,
						strconv.Itoa(doc.RetryCount),
						doc.CreatedAt.Local().Format(time.DateTime),
					})
				}
				table := renderTable(
					[]string{"ID", "Source", "Status", "Type", "Retries", "Created"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (repeatable)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one document in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid document id %q", args[0])
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				doc, err := st.GetDocument(cmd.Context(), id)
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("document %d not found", id)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:             %d\n", doc.ID)
				fmt.Fprintf(out, "Status:         %s\n", doc.Status)
				fmt.Fprintf(out, "Source:         %s\n", doc.SourcePath)
				fmt.Fprintf(out, "Archive:        %s\n", doc.ArchivePath)
				fmt.Fprintf(out, "Fingerprint:    %s\n", doc.Fingerprint)
				fmt.Fprintf(out, "Type:           %s\n", doc.DocType)
				fmt.Fprintf(out, "Entity:         %s\n", doc.Entity)
				fmt.Fprintf(out, "Correspondent:  %s\n", doc.Correspondent)
				fmt.Fprintf(out, "Date:           %s\n", doc.DocDate)
				if doc.ClassificationScore > 0 {
					fmt.Fprintf(out, "Score:          %.2f\n", doc.ClassificationScore)
				}
				if doc.SeriesID != nil {
					fmt.Fprintf(out, "Series:         %d\n", *doc.SeriesID)
				}
				fmt.Fprintf(out, "Retries:        %d\n", doc.RetryCount)
				if doc.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:          %s\n", doc.ErrorMessage)
				}
				fmt.Fprintf(out, "Created:        %s\n", doc.CreatedAt.Local().Format(time.DateTime))
				fmt.Fprintf(out, "Updated:        %s\n", doc.UpdatedAt.Local().Format(time.DateTime))
				if doc.Summary != "" {
					fmt.Fprintf(out, "\n%s\n", doc.Summary)
				}
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Retry failed documents with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid document id %q", arg)
				}
				ids = append(ids, id)
			}
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				moved, err := st.RetryFailedDocuments(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				if moved == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No failed documents to retry")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rescheduled %d document(s)\n", moved)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove completed documents from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				var removed int64
				var err error
				if all {
					removed, err = st.Clear(cmd.Context())
				} else {
					removed, err = st.ClearCompleted(cmd.Context())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d document(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every document, not just completed ones")
	return cmd
}
