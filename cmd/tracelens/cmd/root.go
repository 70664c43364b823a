package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/armadaproject/tracelens/internal/common"
	commonconfig "github.com/armadaproject/tracelens/internal/common/config"
	"github.com/armadaproject/tracelens/internal/tracelens/configuration"
)

const (
	CustomConfigLocation string = "config"
	DefaultConfigPath    string = "./config/tracelens"
)

func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "tracelens",
		SilenceUsage: true,
		Short:        "Ingests, stores and serves run traces",
	}

	cmd.PersistentFlags().StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	_ = viper.BindPFlag(CustomConfigLocation, cmd.PersistentFlags().Lookup(CustomConfigLocation))

	cmd.AddCommand(
		runCmd(),
		migrateDbCmd(),
		sweepQueueCmd(),
		queueStatsCmd(),
	)

	return cmd
}

func loadConfig() (configuration.Configuration, error) {
	var config configuration.Configuration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)

	common.LoadConfig(
		&config,
		DefaultConfigPath,
		userSpecifiedConfigs,
		commonconfig.StringEnumHookFunc(configuration.AuthErrorPolicy(""), configuration.ParseAuthErrorPolicy),
	)

	err := commonconfig.Validate(config)
	if err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	return config, common.ConfigureLogLevel(config.Logging.Level, config.Logging.Format)
}
