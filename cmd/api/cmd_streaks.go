package main

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"triad/api/internal/store"
	"triad/api/internal/streak"
)

var streaksCmd = &cobra.Command{
	Use:   "streaks",
	Short: "Inspect and repair streaks",
}

var recalcUserID string

// streaksRecalcCmd runs the same recalculation as POST /api/streaks/calculate
// for one user and prints the summary as JSON.
var streaksRecalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate today's streaks for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if recalcUserID == "" {
			return errors.New("--user is required")
		}
		db, err := openDatabase(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		calc := streak.NewCalculator(store.NewPostgresStore(db), cfg.Location())
		summary, err := calc.Recalculate(cmd.Context(), recalcUserID, time.Now())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	streaksRecalcCmd.Flags().StringVar(&recalcUserID, "user", "", "user id to recalculate")
	streaksCmd.AddCommand(streaksRecalcCmd)
	rootCmd.AddCommand(streaksCmd)
}
