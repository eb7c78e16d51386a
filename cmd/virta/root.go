package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logPretty  bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "virta",
		Short: "CloudWatch metric and resource scraper for Prometheus",
		Long: `virta scrapes CloudWatch metrics, alarms and resource relationships
across accounts and regions and exposes them on a Prometheus endpoint.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "virta.yaml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "human readable log output")

	cmd.AddCommand(runCmd())
	return cmd
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if logPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}
