// Command api serves the Triad Wellbeing HTTP API.
package main

import (
	"context"
	"database/sql"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"triad/api/internal/config"
	"triad/api/internal/logging"
	"triad/api/internal/store"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "api",
	Short: "Triad Wellbeing API server",
	Long: `Triad Wellbeing API server.

Running without a subcommand is the same as "api serve".`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err := cfg.Validate(); err != nil {
			logging.Error().Err(err).Msg("invalid configuration")
			return err
		}
		return nil
	},
	RunE: runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDatabase connects and applies pending migrations.
func openDatabase(ctx context.Context) (*sql.DB, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		db.Close()
		return nil, err
	}
	if applied > 0 {
		logging.Info().Int("applied", applied).Str("dir", cfg.MigrationsDir).Msg("migrations applied")
	}
	return db, nil
}
