package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "priceprovider"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "FTSO-style multi-source price feed provider",
		Version: version,
		Long: `priceprovider ingests trades from multiple exchanges, validates and
aggregates them into a consensus price per feed, and serves the result over
an HTTP API consumed by the oracle protocol's voting round.`,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start ingest adapters, the aggregation loop, and the HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config-dir", "config", "directory holding server.yaml, sources.yaml, feeds.yaml")
	rootCmd.AddCommand(serveCmd)

	healthCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe a running provider's /health/liveness endpoint",
		RunE:  runHealthcheck,
	}
	healthCmd.Flags().String("addr", "http://localhost:8080", "provider base address")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
	rootCmd.AddCommand(healthCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
