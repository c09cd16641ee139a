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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/conductor/services/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a workflow configuration without running it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := workflow.LoadConfig(configPath)
		if err != nil {
			return err
		}

		fmt.Printf("%s: ok (%d phases, default provider %s)\n",
			configPath, len(cfg.Phases), cfg.Provider)
		for _, phase := range cfg.Phases {
			gating := ""
			if phase.Gating {
				gating = " [gating]"
			}
			fmt.Printf("  %s%s tools=%v max_iterations=%d\n",
				phase.Name, gating, phase.Tools, cfg.IterationCap(phase))
		}
		return nil
	},
}
