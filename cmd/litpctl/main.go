package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/litp/platform/pkg/log"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "litpctl",
	Short: "litpctl - ingestion and cleanse-analysis control plane",
	Long: `litpctl runs and drives the livestock-traceability ingestion
core: one-shot imports and cleanse analyses, backed by the same
document store and object stores the (external) HTTP API serves from,
plus a long-running "serve" mode for the periodic scheduler and
readiness endpoints.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("litpctl version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (env LITP_* vars always override)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format; overrides config")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(cleanseCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if level == "" {
		level = "info"
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}
