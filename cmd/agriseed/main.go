// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command agriseed loads generated reference datasets into the store.
//
// # Usage
//
//	# Everything, into the configured store
//	agriseed ingest
//
//	# One dataset into a staging table
//	agriseed ingest --dataset market_prices --table market_prices_staging
//
//	# Show what would be written
//	agriseed ingest --dry-run
//
// The exit status is 1 only when every batch of the run failed. A run with
// some failed batches prints a warning and exits 0.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
