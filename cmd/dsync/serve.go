package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/songzhibin97/dolphin-sync/api"
	"github.com/songzhibin97/dolphin-sync/events"
)

const shutdownTimeout = 10 * time.Second

// serveOptions defines flags for the `serve` command.
type serveOptions struct {
	general *generalOptions

	addr string
}

func newServeOptions(general *generalOptions) *serveOptions {
	return &serveOptions{general: general}
}

func (o *serveOptions) addFlags(cmd *cobra.Command) {
	if o == nil {
		return
	}

	cmd.Flags().StringVar(&o.addr, "addr", "", "listen address, overrides server.addr")
}

// run the `serve` command until ctx is cancelled.
func (o *serveOptions) run(cmd *cobra.Command) error {
	return o.general.withApp(cmd, func(ctx context.Context, a *app) error {
		addr := a.cfg.Server.Addr
		if o.addr != "" {
			addr = o.addr
		}

		audit := a.logger.Named("audit")
		a.svc.SubscribeAllEvents(events.EventHandlerFunc(func(_ context.Context, e events.Event) error {
			audit.Info(e.Type,
				zap.Int64("workflowId", e.WorkflowID),
				zap.Time("occurredAt", e.OccurredAt),
				zap.Any("data", e.Data))
			return nil
		}))

		e := api.NewServer(a.svc, a.logger.Named("api")).Echo()
		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("listening", zap.String("addr", addr), zap.String("mode", string(a.svc.Mode())))
			errCh <- e.Start(addr)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		a.logger.Info("server stopped")
		return nil
	})
}

// newCmdServe creates the `serve` command.
func newCmdServe(general *generalOptions) *cobra.Command {
	o := newServeOptions(general)

	command := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	o.addFlags(command)

	return command
}
