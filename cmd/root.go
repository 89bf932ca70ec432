// Package cmd wires the engine together behind a cobra CLI. The binary never
// launches browsers or creates storefront accounts; it attaches to tabs the
// profile provisioner already signed in and hunts from there.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/observability"
)

// Version is stamped at build time; local builds report "dev".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "ticket-scout",
	Short:   "Monitors ticket storefronts and reserves seats the moment they appear",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// 1. Defaults, config file, environment.
		if err := initializeConfig(); err != nil {
			return fmt.Errorf("failed to initialize configuration: %w", err)
		}

		// 2. Unmarshal into the singleton.
		if err := config.Load(viper.GetViper()); err != nil {
			return err
		}
		cfg := config.Get()

		// 3. Validate before anything touches the network.
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		// 4. Logger comes up last so it reflects the validated config.
		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Info("Starting ticket-scout", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command under the context main.go derives from the
// process signals, so Ctrl-C unwinds every loop before the process exits.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cancellation during shutdown is the expected exit path, not a failure.
		if ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckCmd())
}

// initializeConfig layers defaults, the optional config file, and TICKETSCOUT_
// environment variables, in ascending precedence.
func initializeConfig() error {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TICKETSCOUT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and environment carry the run.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
