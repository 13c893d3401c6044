package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-bounties/core"
	"github.com/goliatone/go-bounties/webhooks"
	"github.com/spf13/cobra"
)

const purgeInterval = time.Minute

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Receive GitHub webhooks and run the bounty lifecycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(ctx, opts)
			if err != nil {
				return err
			}
			if cfg.Webhook.Secret == "" {
				return fmt.Errorf("webhook.secret is required to serve")
			}
			a, err := openApp(ctx, cfg, opts.logger(cmd))
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			if migrate {
				if err := a.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			forgeClient, err := a.newForge()
			if err != nil {
				return err
			}
			gateway, err := a.newGateway()
			if err != nil {
				return err
			}
			rt, err := a.buildRuntime(forgeClient, gateway)
			if err != nil {
				return err
			}
			defer rt.Close()
			return serve(ctx, a, rt)
		},
	}
	cmd.Flags().StringVar(&opts.httpAddr, "addr", "", "listen address (default from http.addr)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func serve(ctx context.Context, a *app, rt *runtime) error {
	logger := a.named("http")
	handler := webhooks.NewHTTPHandler(rt.processor,
		webhooks.WithMaxBodyBytes(a.cfg.Webhook.MaxBodyBytes),
		webhooks.WithHTTPLogger(logger),
	)
	server := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           webhooks.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := rt.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			core.LogWithLevel(ctx, logger, "error", "notification worker stopped", map[string]any{"error": err.Error()})
		}
	}()
	go purgeExpired(ctx, a)

	errs := make(chan error, 1)
	go func() {
		core.LogWithLevel(ctx, logger, "info", "listening", map[string]any{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	err := rt.flush(shutdownCtx)
	counters, _ := a.metrics.Snapshot()
	core.LogWithLevel(shutdownCtx, logger, "info", "stopped", map[string]any{"counters": counters})
	return err
}

func purgeExpired(ctx context.Context, a *app) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.stores.CoordinationStore().PurgeExpired(ctx)
			if err != nil {
				core.LogWithLevel(ctx, a.named("coordination"), "warn", "purge expired keys failed", map[string]any{"error": err.Error()})
				continue
			}
			if removed > 0 {
				core.LogWithLevel(ctx, a.named("coordination"), "debug", "purged expired keys", map[string]any{"removed": removed})
			}
		}
	}
}
