package standard

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fatalmerlin/dnssync/internal/cli/client"
)

// Execute runs the Cobra-based CLI entry point.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dnsctl",
		Short: "dnssync command-line interface",
		Long:  "dnsctl inspects and controls a running dnssyncd daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringP("api", "a", envOrDefault("DNSSYNC_API_BASE", "http://127.0.0.1:8053"), "dnssyncd base URL")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRecordsCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dnsctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dnsctl (development)\n")
		},
	}
}

func clientFromCmd(cmd *cobra.Command) (*client.Client, error) {
	base, err := cmd.Flags().GetString("api")
	if err != nil {
		return nil, err
	}
	return client.New(base)
}

func envOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
