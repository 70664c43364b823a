package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/health"
	"github.com/armadaproject/tracelens/internal/tracelens"
	"github.com/armadaproject/tracelens/internal/tracelens/configuration"
	"github.com/armadaproject/tracelens/internal/tracelens/metrics"
)

func sweepQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweepQueue",
		Short: "removes old finished jobs from the queue and requeues stalled ones, once",
		RunE:  sweepQueue,
	}
	return cmd
}

func sweepQueue(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	services, err := queueOnlyServices(cmd.Context(), config, configuration.RolesConfig{Sweeper: true})
	if err != nil {
		return err
	}
	defer services.Close()

	result, err := services.Sweeper.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(
		cmd.OutOrStdout(),
		"removed %d completed and %d failed jobs, requeued %d stalled jobs\n",
		result.CompletedRemoved, result.FailedRemoved, result.Requeued)
	return nil
}

// queueOnlyServices connects to the queue without starting anything and without touching postgres.
func queueOnlyServices(ctx context.Context, config configuration.Configuration, roles configuration.RolesConfig) (*tracelens.Services, error) {
	config.Roles = roles
	return tracelens.NewServices(ctx, config, clock.RealClock{}, metrics.NewMetrics(metrics.MetricsPrefix, nil), health.NewMultiChecker())
}
