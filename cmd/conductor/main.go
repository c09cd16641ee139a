// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command conductor runs multi-phase LLM tool-calling workflows.
//
// A workflow is a YAML file declaring phases; each phase runs a fresh
// conversation against one provider with a restricted tool subset, and the
// structured data extracted from its tool results feeds the next phase's
// prompt.
//
// Usage:
//
//	conductor run --config workflow.yaml
//	conductor run --config workflow.yaml --data-dir ./sessions --metrics-port 9090
//	conductor validate --config workflow.yaml
//
// Credentials come from the environment (ANTHROPIC_API_KEY, OPENAI_API_KEY,
// GEMINI_API_KEY); Ollama needs none.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// configPath and the other vars hold global flag values.
var (
	configPath  string
	dataDir     string
	metricsPort int
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Multi-phase LLM tool-calling workflow runner",
	Long: `Conductor chains isolated tool-calling conversations into a pipeline.
Each phase gets a fresh session, a tool subset, and a prompt rendered from
the structured data earlier phases extracted.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "workflow.yaml",
		"path to the workflow configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	runCmd.Flags().StringVar(&dataDir, "data-dir", "",
		"directory for the session journal (empty keeps sessions in memory)")
	runCmd.Flags().IntVar(&metricsPort, "metrics-port", 0,
		"serve Prometheus metrics on this port while the workflow runs (0 disables)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
