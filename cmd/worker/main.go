// Command worker runs one Discord gateway shard worker: WorkerService
// (spec §4.7) plus the succession machinery that lets it stand in as
// Temporary Coordinator (spec §4.8) if the coordinator goes dark.
//
// Configuration is read from the environment (see internal/config),
// optionally overlaid with a YAML file passed via --config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/config"
	"github.com/dreamware/shardcoord/internal/entitycache"
	"github.com/dreamware/shardcoord/internal/gatewayclient"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/restclient"
	"github.com/dreamware/shardcoord/internal/worker"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "worker",
		Short: "Run one Discord gateway shard worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config overlay")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if cfg.CoordinatorURL == "" {
		return fmt.Errorf("worker: SHARD_COORDINATOR_URL is required")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logx.New(os.Stderr, level).With(logx.F("process_id", cfg.ProcessID), logx.F("role", "worker"))

	client := httpclient.New()
	rest := restclient.New(client, "", cfg.DiscordToken)

	gwCtx, gwCancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	gw, err := rest.GetGatewayBot(gwCtx)
	gwCancel()
	if err != nil {
		return fmt.Errorf("worker: resolve gateway endpoint: %w", err)
	}

	cache, err := entitycache.New(entitycache.DefaultSize)
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	dialer := &gatewayclient.Dialer{Endpoint: gw.URL, Token: cfg.DiscordToken}

	svc := worker.New(cfg.ProcessID, cfg.SelfURL, cfg.CoordinatorURL, client, dialer, cache, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registerWithRetry(ctx, svc, log); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	svc.Start(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker listening", logx.F("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	if err := httpclient.PostAck(deregisterCtx, client, svc.CoordinatorURL()+"/worker/deregister", cluster.DeregisterRequest{ProcessID: cfg.ProcessID}); err != nil {
		log.Warn("deregister failed, coordinator will reap via heartbeat timeout", logx.F("error", err.Error()))
	}
	deregisterCancel()

	svc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown error", err)
	}
	log.Info("worker stopped")
	return nil
}

// registerWithRetry retries the initial registration with exponential
// backoff, since the coordinator may not be reachable yet on a cold
// cluster start (e.g. both processes launched by the same compose/k8s
// apply).
func registerWithRetry(ctx context.Context, svc *worker.Service, log logx.Logger) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 10), ctx)
	return backoff.Retry(func() error {
		err := svc.Register(ctx)
		if err != nil {
			log.Warn("register attempt failed, retrying", logx.F("error", err.Error()))
		}
		return err
	}, policy)
}
