package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/youthvoice/portal/internal/data"
)

func withCommandTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), defaultCommandTimeout)
}

func newAuditCmd(a *app) *cobra.Command {
	var filter data.AuditFilter
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent audit log entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := withCommandTimeout(cmd)
			defer cancel()

			s, err := a.openStores(ctx, a)
			if err != nil {
				return err
			}
			defer s.close(a.logger)

			records, err := s.audit.List(ctx, filter)
			if err != nil {
				return err
			}
			return printAudit(a, records)
		},
	}
	cmd.Flags().StringVar(&filter.ActorID, "actor", "", "only entries by this actor")
	cmd.Flags().StringVar(&filter.Action, "action", "", "only entries with this action")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries to print")
	return cmd
}

func printAudit(a *app, records []data.AuditRecord) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "TIME\tACTOR\tACTION\tTARGET"); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.CreatedAt.UTC().Format(time.RFC3339), r.ActorID, r.Action, r.Target); err != nil {
			return err
		}
	}
	return tw.Flush()
}
