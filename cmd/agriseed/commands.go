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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	datasetNames []string
	targetTable  string
	storeBackend string
	batchSize    int
	seedFlag     uint64
	dryRun       bool

	rootCmd = &cobra.Command{
		Use:          "agriseed",
		Short:        "Seed the agriculture portal store with reference data",
		SilenceUsage: true,
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Generate datasets and write them to the store in batches",
		Args:  cobra.NoArgs,
		RunE:  runIngest, // Defined in cmd_ingest.go
	}

	datasetsCmd = &cobra.Command{
		Use:     "datasets",
		Short:   "List the datasets ingest can generate",
		Aliases: []string{"list"},
		Args:    cobra.NoArgs,
		RunE:    runDatasets, // Defined in cmd_datasets.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringSliceVarP(&datasetNames, "dataset", "d", nil, "Dataset to ingest; repeatable. Default: all")
	ingestCmd.Flags().StringVarP(&targetTable, "table", "t", "", "Target table; only with a single --dataset")
	ingestCmd.Flags().StringVar(&storeBackend, "store", "", "Store backend, overrides store.backend")
	ingestCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per batch, overrides ingest.batch_size")
	ingestCmd.Flags().Uint64Var(&seedFlag, "seed", 0, "Generator seed; 0 uses resolver.seed or the clock")
	ingestCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Generate and summarize without writing")

	rootCmd.AddCommand(datasetsCmd)
}
