package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const sessionsTimeout = 30 * time.Second

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, inspect and delete stored breath sessions (reads DB_* env)",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsPointsCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var (
		userID   string
		deviceID string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Newest sessions of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, done, err := openSessionRepository()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), sessionsTimeout)
			defer cancel()

			records, err := repo.ListSessions(ctx, userID, deviceID, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&deviceID, "device", "", "only sessions of this device serial")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions (0 = 50)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func newSessionsPointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "points <session-id>",
		Short: "Raw data points of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, done, err := openSessionRepository()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), sessionsTimeout)
			defer cancel()

			points, err := repo.GetDataPoints(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), points)
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete one session and its data points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, done, err := openSessionRepository()
			if err != nil {
				return err
			}
			defer done()

			ctx, cancel := context.WithTimeout(cmd.Context(), sessionsTimeout)
			defer cancel()

			if err := repo.DeleteSession(ctx, userID, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "owner of the session")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}
