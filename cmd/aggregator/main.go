package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
	"github.com/JohnPlummer/jp-go-aggregator/config"
	"github.com/JohnPlummer/jp-go-aggregator/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"

	flagConfig  string
	flagVersion bool
	flagVerbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "aggregator",
	Short:         "Shopping aggregator gateway",
	Long:          "Routes calls to the catalog, basket and ordering services through resilient clients.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "",
		"path to a YAML configuration file; AGGREGATOR_* environment variables take precedence")
	rootCmd.Flags().BoolVarP(&flagVersion, "version", "V", false, "print version and exit")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "force debug logging")
}

func run(cmd *cobra.Command, _ []string) error {
	if flagVersion {
		fmt.Printf("version: %s\n", appVersion)
		return nil
	}

	cfg, err := config.Load(config.LoadOptions{File: flagConfig, Required: flagConfig != ""})
	if err != nil {
		return err
	}
	if flagVerbose {
		cfg.Log.Level = "debug"
	}

	logger := config.NewLogger(cfg.Log, os.Stdout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := aggregator.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	gw, err := config.NewGatewayFromConfig(cfg, logger, metrics)
	if err != nil {
		return err
	}
	logger.Info("gateway configured",
		"dependencies", gw.Dependencies(),
		"retry_count", cfg.Retry.RetryCount,
		"failure_threshold", cfg.Breaker.FailureThreshold,
		"open_duration", cfg.Breaker.OpenDuration)

	srv := server.New(gw, server.Options{
		Logger:          logger,
		Gatherer:        registry,
		Address:         cfg.Server.Address,
		RequestTimeout:  cfg.Server.RequestTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
	})
	return srv.Run(cmd.Context())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
