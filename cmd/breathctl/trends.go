package main

import (
	"context"
	"time"

	"xhale-breath/internal/trends"

	"github.com/spf13/cobra"
)

func newTrendsCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Daily median ppm of the last 7 days and the smoke-free streak (reads DB_* env)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, done, err := openSessionRepository()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			result, err := trends.Fetch(ctx, repo, userID, time.Now())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
