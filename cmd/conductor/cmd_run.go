// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/conductor/services/llm"
	"github.com/AleutianAI/conductor/services/workflow"
	"github.com/AleutianAI/conductor/services/workflow/session"
	"github.com/AleutianAI/conductor/services/workflow/tools"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the configured workflow",
	RunE:  runWorkflow,
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer shutdownTracing()

	cfg, err := workflow.LoadConfig(configPath)
	if err != nil {
		return err
	}

	providerConfigs, err := cfg.ProviderConfigs()
	if err != nil {
		return err
	}
	providers, err := llm.NewRegistry(providerConfigs...)
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}
	if len(cfg.RateLimits) > 0 {
		providers.SetRateLimits(cfg.RateLimits)
	}

	store, closeStore, err := openSessionStore(dataDir)
	if err != nil {
		return err
	}
	defer closeStore()

	registry, err := builtinToolRegistry()
	if err != nil {
		return fmt.Errorf("building tool registry: %w", err)
	}

	slog.Info("Starting workflow",
		slog.String("config", configPath),
		slog.Int("phases", len(cfg.Phases)),
		slog.Any("providers", providers.Names()),
	)

	orchestrator := workflow.NewOrchestrator(providers, registry, store)

	group, groupCtx := errgroup.WithContext(ctx)

	var metricsServer *http.Server
	if metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", metricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			slog.Info("Serving metrics", slog.Int("port", metricsPort))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	var result *workflow.WorkflowResult
	group.Go(func() error {
		defer func() {
			if metricsServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				metricsServer.Shutdown(shutdownCtx)
			}
		}()

		var runErr error
		result, runErr = orchestrator.Run(groupCtx, cfg)
		return runErr
	})

	if err := group.Wait(); err != nil {
		printResult(result)
		return err
	}

	printResult(result)
	if !result.Success {
		return fmt.Errorf("workflow finished with failed phases: %s",
			strings.Join(result.FailedPhases(), ", "))
	}
	return nil
}

// openSessionStore opens the Badger journal, or falls back to memory when no
// data directory is configured.
func openSessionStore(dir string) (session.Store, func(), error) {
	if dir == "" {
		return session.NewMemoryStore(), func() {}, nil
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store at %s: %w", dir, err)
	}
	closeStore := func() {
		if err := db.Close(); err != nil {
			slog.Warn("Closing session store", slog.String("error", err.Error()))
		}
	}
	return session.NewBadgerStore(db), closeStore, nil
}

// builtinToolRegistry registers the built-in workflow tools.
func builtinToolRegistry() (*tools.Registry, error) {
	registry := tools.NewRegistry()
	findings := tools.NewFindingStore()

	for _, tool := range []tools.Tool{
		tools.NewRecordFindingTool(findings),
		tools.NewFinalizeArtifactTool(findings),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// printResult writes the extracted data summary to stdout.
func printResult(result *workflow.WorkflowResult) {
	if result == nil {
		return
	}

	for _, phase := range result.Phases {
		fmt.Printf("phase %-20s %s (%d iterations, session %s)\n",
			phase.Phase, phase.Status, phase.Iterations, phase.SessionID)
		for _, phaseErr := range phase.Errors {
			fmt.Printf("  error: %s\n", phaseErr)
		}
	}

	if summaries, err := result.ArtifactSummaries(); err == nil {
		for phase, summary := range summaries {
			if summary.Title == "" {
				continue
			}
			fmt.Printf("artifact (%s): %s (%d findings)\n  %s\n",
				phase, summary.Title, summary.FindingCount, summary.Conclusion)
		}
	} else {
		slog.Warn("Summarizing artifacts", slog.String("error", err.Error()))
	}

	if len(result.Artifacts) > 0 {
		raw, err := json.MarshalIndent(result.Artifacts, "", "  ")
		if err == nil {
			fmt.Printf("artifacts:\n%s\n", raw)
		}
	}
	fmt.Printf("success: %v\n", result.Success)
}
