package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/armadaproject/tracelens/internal/queue"
	"github.com/armadaproject/tracelens/internal/tracelens/configuration"
)

func queueStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queueStats",
		Short: "prints the number of jobs in each state",
		RunE:  queueStats,
	}
	return cmd
}

func queueStats(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	services, err := queueOnlyServices(cmd.Context(), config, configuration.RolesConfig{})
	if err != nil {
		return err
	}
	defer services.Close()

	counts, err := services.Queue.Counts(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, state := range queue.AllStates {
		fmt.Fprintf(w, "%s\t%d\n", state, counts[state])
	}
	fmt.Fprintf(w, "total\t%d\n", counts.Total())
	return w.Flush()
}
