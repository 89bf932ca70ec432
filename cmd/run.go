package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iahmadwaqar/ticket-scout-sub002/api/schemas"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/config"
	"github.com/iahmadwaqar/ticket-scout-sub002/internal/observability"
)

func newRunCmd() *cobra.Command {
	var profilesFile string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run monitoring loops for every profile in the profiles file",
		Long: `Attaches to the signed-in browser tab of each configured profile, bridges
its session onto an HTTP client, and polls the storefront until tickets are
reserved, the session dies, or the process is stopped. Status events stream
to stdout as JSON lines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			profiles, err := loadProfiles(profilesFile)
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				return fmt.Errorf("profiles file %q names no profiles", profilesFile)
			}

			components := newComponents(cfg)
			defer components.Shutdown()

			started := components.StartProfiles(ctx, profiles)
			if started == 0 {
				return fmt.Errorf("no monitoring loop could be started")
			}
			logger.Info("Hunt running",
				zap.Int("profiles", started),
				zap.Int("skipped", len(profiles)-started),
			)

			// Run until the operator stops the process or every loop reaches a
			// terminal state on its own.
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					logger.Info("Shutdown signal received, stopping loops")
					return nil
				case <-ticker.C:
					if components.Registry.Running() == 0 {
						logger.Info("All profiles reached a terminal state")
						return nil
					}
				}
			}
		},
	}

	runCmd.Flags().StringVarP(&profilesFile, "profiles", "p", "profiles.yaml", "YAML file listing the profiles to monitor")
	return runCmd
}

// loadProfiles reads the profile records from their own YAML file. Profiles
// change per hunt while the engine config is stable, so they deliberately do
// not share the main config file.
func loadProfiles(path string) ([]schemas.ProfileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading profiles file %q: %w", path, err)
	}

	var profiles []schemas.ProfileConfig
	if err := v.UnmarshalKey("profiles", &profiles); err != nil {
		return nil, fmt.Errorf("decoding profiles file %q: %w", path, err)
	}

	for i := range profiles {
		if err := profiles[i].Validate(); err != nil {
			return nil, fmt.Errorf("profiles file %q: %w", path, err)
		}
	}
	return profiles, nil
}
