package main

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/fakturo/internal/scheduler"
	"github.com/smallbiznis/fakturo/internal/seed"
	"github.com/smallbiznis/fakturo/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "fakturo",
	Short:         "Contract billing, invoicing and prepaid accounts",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the billing scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		withoutScheduler, _ := cmd.Flags().GetBool("no-scheduler")

		opts := []fx.Option{infrastructure, domains, server.Module}
		if !withoutScheduler {
			opts = append(opts, scheduler.Background)
		}
		app := fx.New(opts...)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Billing scheduler commands",
}

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Run every enabled scheduler job once and exit",
	Example: `  # bill due contracts, renew prepaid contracts and send reminders
  fakturo scheduler run-once`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sched *scheduler.Scheduler
		return runShortLived(cmd.Context(), func(ctx context.Context) error {
			return sched.RunOnce(ctx)
		}, infrastructure, domains, fx.Populate(&sched))
	},
}

var seedCmd = &cobra.Command{
	Use:     "seed",
	Short:   "Create the first admin and print its API key",
	Example: `  fakturo seed --name "Billing Admin" --email billing@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")

		var seeder *seed.Seeder
		return runShortLived(cmd.Context(), func(ctx context.Context) error {
			user, secret, err := seeder.EnsureAdmin(ctx, seed.Admin{Name: name, Email: email})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "admin %s (%s)\napi key %s\n", user.Email, user.ID, secret.APIKey)
			return nil
		}, infrastructure, domains, seed.Module, fx.Populate(&seeder))
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		// migration.Module applies the schema while the app is built
		return runShortLived(cmd.Context(), func(context.Context) error { return nil }, infrastructure)
	},
}

func init() {
	seedCmd.Flags().String("name", "Administrator", "Display name of the admin")
	seedCmd.Flags().String("email", "", "Email of the admin")
	_ = seedCmd.MarkFlagRequired("email")

	serveCmd.Flags().Bool("no-scheduler", false, "Serve HTTP only and leave billing to a separate run-once job")

	schedulerCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(serveCmd, schedulerCmd, migrateCmd, seedCmd)
}

// runShortLived starts the graph, runs fn and stops everything again.
func runShortLived(parent context.Context, fn func(context.Context) error, opts ...fx.Option) error {
	if parent == nil {
		parent = context.Background()
	}
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	runErr := fn(parent)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
