// Command coordinator runs the Discord shard coordination control
// plane: CoordinatorService plus its §6 HTTP surface (registration,
// heartbeats, assignment, succession, resumption).
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

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dreamware/shardcoord/internal/config"
	"github.com/dreamware/shardcoord/internal/coordinator"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/restclient"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the shard coordination control plane",
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
		return fmt.Errorf("coordinator: %w", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := logx.New(os.Stderr, level).With(logx.F("process_id", cfg.ProcessID), logx.F("role", "coordinator"))

	client := httpclient.New()

	totalShards, err := resolveTotalShards(cfg, client, log)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	svc := coordinator.New(cfg.ProcessID, cfg.SelfURL, totalShards, client, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc.Start(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("coordinator listening", logx.F("addr", cfg.ListenAddr), logx.F("total_shards", totalShards))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen failed", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown error", err)
	}
	log.Info("coordinator stopped")
	return nil
}

// resolveTotalShards honors an explicit TOTAL_SHARDS configuration, and
// otherwise derives it from Discord's recommended shard count (spec
// §6).
func resolveTotalShards(cfg *config.Config, client *httpclient.Client, log logx.Logger) (int, error) {
	if cfg.TotalShards > 0 {
		return cfg.TotalShards, nil
	}
	rest := restclient.New(client, "", cfg.DiscordToken)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTPTimeout)
	defer cancel()
	gw, err := rest.GetGatewayBot(ctx)
	if err != nil {
		return 0, fmt.Errorf("derive total shards: %w", err)
	}
	log.Info("derived total shards from gateway/bot", logx.F("total_shards", gw.Shards))
	return gw.Shards, nil
}
