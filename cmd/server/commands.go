package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"appointment-sync/internal/auth"
)

func requireUser(cmd *cobra.Command) (string, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return "", errors.New("--user is required")
	}
	return user, nil
}

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sweep for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser(cmd)
			if err != nil {
				return err
			}
			c, err := newContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.poller.Sync(cmd.Context(), user)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d appointments for %s\n", n, user)
			return nil
		},
	}
	cmd.Flags().String("user", "", "local user id")
	return cmd
}

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep for every connected user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			n, err := c.scheduler.SweepAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d appointments\n", n)
			return nil
		},
	}
}

func newRegisterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Subscribe the provider's webhooks for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := requireUser(cmd)
			if err != nil {
				return err
			}
			c, err := newContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			uri, err := c.registrar.Register(cmd.Context(), user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	cmd.Flags().String("user", "", "local user id")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			c, err := newContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.migrate(cmd.Context())
		},
	}
}

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for a local user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			user, err := requireUser(cmd)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			tok, err := auth.MakeTokenTTL(user, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("user", "", "local user id")
	cmd.Flags().Duration("ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}
