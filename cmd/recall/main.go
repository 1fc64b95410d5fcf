package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agentrium/recall/internal/profile"
	"github.com/agentrium/recall/internal/version"
	"github.com/agentrium/recall/store"
	"github.com/agentrium/recall/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: `A vector-aware memory and knowledge store for agent runtimes.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Ignore error if no .env file exists.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile := buildProfile()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		s := store.New(instanceProfile, db.NewDBDriver)
		defer s.Close()

		capability, err := s.Capability(ctx)
		if err != nil {
			slog.Error("failed to initialize store", "error", err)
			return err
		}

		printGreetings(instanceProfile, capability.Status())
		return nil
	},
}

var purgeCacheCmd = &cobra.Command{
	Use:   "purge-cache",
	Short: "Remove expired persisted cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile := buildProfile()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		s := store.New(instanceProfile, db.NewDBDriver)
		defer s.Close()

		purged, err := s.PurgeExpiredCache(cmd.Context())
		if err != nil {
			slog.Error("failed to purge cache", "error", err)
			return err
		}
		fmt.Printf("Purged %d expired cache entries\n", purged)
		return nil
	},
}

func buildProfile() *profile.Profile {
	instanceProfile := &profile.Profile{
		Mode:         viper.GetString("mode"),
		Data:         viper.GetString("data"),
		Driver:       viper.GetString("driver"),
		DSN:          viper.GetString("dsn"),
		EmbeddingDim: viper.GetInt("embedding-dim"),
		Version:      version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	return instanceProfile
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")

	rootCmd.PersistentFlags().String("mode", "dev", `mode, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().Int("embedding-dim", 0, "embedding dimensionality")

	for _, flag := range []string{"mode", "data", "driver", "dsn", "embedding-dim"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("recall")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(purgeCacheCmd)
}

func printGreetings(p *profile.Profile, status store.CapabilityStatus) {
	fmt.Printf("Recall %s ready\n", p.Version)

	if p.IsDev() && p.DSN != "" {
		fmt.Fprintf(os.Stderr, "Database: %s\n", p.DSN)
	}

	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Vector capability: %s\n", status)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
