package cmd

import (
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/armadaproject/tracelens/internal/tracelens"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the roles enabled in the configuration",
		RunE:  runTracelens,
	}
	return cmd
}

func runTracelens(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	// SIGINT and SIGTERM stop intake and let in-flight jobs and requests finish.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
	}()
	return tracelens.Run(ctx, config)
}
