// Command listsync runs change cycles against captured list responses and
// inspects the resulting entity cache. It is the offline collaborator around
// the sync engine: list schemas come from a config file, responses from
// fixture files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"listsync/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "listsync",
		Short:         "Entity cache and incremental list synchronization",
		Long:          "listsync applies change-token responses to a canonical entity cache.\nList schemas are read from a config file; responses come from fixture files.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "listsync.yaml", "config file with list definitions")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.SetEnvPrefix("LISTSYNC")
	v.AutomaticEnv()

	rootCmd.AddCommand(
		newSyncCmd(v),
		newEntitiesCmd(v),
		newFieldsCmd(v),
		newReferencesCmd(v),
	)

	return rootCmd
}

func newLogger(v *viper.Viper) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:       v.GetString("log_level"),
		Development: true,
	})
}
