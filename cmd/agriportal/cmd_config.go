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
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AgriPortal/pkg/config"
)

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if configPath == "" {
		return errors.New("--config is required")
	}
	if err := config.WriteDefault(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(masked(*cfg))
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigEnv(cmd *cobra.Command, _ []string) error {
	for _, name := range config.EnvNames() {
		fmt.Fprintln(cmd.OutOrStdout(), name)
	}
	return nil
}

func masked(cfg config.Config) config.Config {
	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}
	mask(&cfg.Store.PostgREST.APIKey)
	mask(&cfg.Store.Influx.Token)
	mask(&cfg.Generation.APIKey)
	mask(&cfg.Generation.LLM.APIKey)
	return cfg
}
