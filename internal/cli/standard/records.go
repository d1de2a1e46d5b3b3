package standard

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fatalmerlin/dnssync/internal/cli/client"
)

func newRecordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Inspect persisted DNS records",
	}

	cmd.AddCommand(newRecordsListCmd())
	cmd.AddCommand(newRecordsGetCmd())
	cmd.AddCommand(newRecordsRetireCmd())
	return cmd
}

func newRecordsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List persisted DNS records",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			records, err := api.ListRecords(ctx)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No records found")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", "HOSTNAME", "ROUTER")
			for _, rec := range records {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", rec.Hostname, rec.Router)
			}
			return nil
		},
	}
}

func newRecordsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <hostname>",
		Short: "Show one persisted record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			rec, err := api.GetRecord(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Hostname: %s\nRouter: %s\n", rec.Hostname, rec.Router)
			return nil
		},
	}
}

func newRecordsRetireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retire <hostname>",
		Short: "Delete a record from DNS and the store",
		Long:  "Deletes the hostname's address record and forgets it. The next sync re-adds the record if the hostname is still routed.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := api.RetireRecord(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Record %s retired\n", args[0])
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger an immediate reconciliation tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := api.TriggerSync(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync scheduled")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			status, err := api.SystemStatus(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Zone: %s (server %s, target %s, interval %s)\n",
				status.Zone.Zone, status.Zone.Server, status.Zone.TargetIP, status.Zone.Interval)
			if status.Status.Ticks == 0 {
				fmt.Fprintln(out, "No sync has completed yet")
				return nil
			}
			fmt.Fprintf(out, "Last sync: %s\n", status.Status.LastSyncAt.Format(time.RFC3339))
			fmt.Fprintf(out, "Desired: %d  Added: %d  Removed: %d  Errors: %d\n",
				status.Status.Desired, status.Status.Added, status.Status.Removed, status.Status.Errors)
			if status.Status.LastError != "" {
				fmt.Fprintf(out, "Last error: %s\n", status.Status.LastError)
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream reconcile events",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := clientFromCmd(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return api.WatchRecordEvents(cmd.Context(), func(event client.RecordEvent) {
				switch event.Type {
				case "SYNC_COMPLETED":
					fmt.Fprintf(out, "%s %s added=%d removed=%d errors=%d\n",
						event.Timestamp.Format(time.RFC3339), event.Type, event.Added, event.Removed, event.Errors)
				case "SYNC_FAILED":
					fmt.Fprintf(out, "%s %s %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
				default:
					fmt.Fprintf(out, "%s %s %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.Hostname)
				}
			})
		},
	}
}
