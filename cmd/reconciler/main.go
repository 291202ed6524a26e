package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/smallbiznis/reconciler/internal/analytics"
	"github.com/smallbiznis/reconciler/internal/checkout"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/emailqueue"
	"github.com/smallbiznis/reconciler/internal/emailqueue/dispatcher"
	"github.com/smallbiznis/reconciler/internal/inventory"
	"github.com/smallbiznis/reconciler/internal/migration"
	"github.com/smallbiznis/reconciler/internal/observability"
	"github.com/smallbiznis/reconciler/internal/order"
	"github.com/smallbiznis/reconciler/internal/payment"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	"github.com/smallbiznis/reconciler/internal/profile"
	"github.com/smallbiznis/reconciler/internal/providers/email"
	"github.com/smallbiznis/reconciler/internal/purchase"
	"github.com/smallbiznis/reconciler/internal/ratelimit"
	"github.com/smallbiznis/reconciler/internal/referral"
	"github.com/smallbiznis/reconciler/internal/server"
	"github.com/smallbiznis/reconciler/internal/subscription"
	"github.com/smallbiznis/reconciler/pkg/db"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "reconciler",
		Short:   "Reconciles payment platform webhooks into storefront state",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mailerCmd())
	rootCmd.AddCommand(replayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// core is shared by every command.
func core() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
	)
}

// reconciliation wires the webhook pipeline and its handlers.
func reconciliation() fx.Option {
	return fx.Options(
		profile.Module,
		order.Module,
		inventory.Module,
		referral.Module,
		subscription.Module,
		purchase.Module,
		emailqueue.Module,
		analytics.Module,
		checkout.Module,
		payment.Module,
	)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				reconciliation(),
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func mailerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mailer",
		Short: "Drain the email queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				core(),
				emailqueue.Module,
				emailqueue.DispatcherModule,
				email.Module,
				ratelimit.Module,
				fx.Invoke(runMailer),
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}

func replayCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "replay <event-id>",
		Short: "Re-run the latest recorded failure for an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var svc paymentdomain.Service
			app := fx.New(
				core(),
				reconciliation(),
				fx.Populate(&svc),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := app.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer stopCancel()
				_ = app.Stop(stopCtx)
			}()

			result, err := svc.Replay(ctx, args[0])
			if err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}
			if result.Duplicate {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already reconciled\n", result.EventID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", result.EventID, result.EventType, result.Outcome)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Deadline for the replay")

	return cmd
}

func runMailer(lc fx.Lifecycle, d *dispatcher.Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				d.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
