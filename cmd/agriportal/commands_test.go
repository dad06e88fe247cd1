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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AgriPortal/pkg/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		configPath, listenAddr, logLevel = "", "", ""
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["config"])

	sub := map[string]bool{}
	for _, c := range configCmd.Commands() {
		sub[c.Name()] = true
	}
	assert.Equal(t, map[string]bool{"init": true, "show": true, "env": true}, sub)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agriportal.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestConfigInit_RequiresPath(t *testing.T) {
	_, err := execute(t, "config", "init")
	assert.ErrorContains(t, err, "--config")
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agriportal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: postgrest
  postgrest:
    url: https://demo.supabase.co
    api_key: super-secret-anon-key
`), 0600))

	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret-anon-key")
	assert.Contains(t, out, "https://demo.supabase.co")
	assert.Contains(t, out, "********")
}

func TestConfigEnv(t *testing.T) {
	out, err := execute(t, "config", "env")
	require.NoError(t, err)
	for _, name := range config.EnvNames() {
		assert.Contains(t, out, name)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	t.Cleanup(func() { listenAddr, logLevel = "", "" })
	listenAddr = "127.0.0.1:9999"
	logLevel = "debug"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := newLogger(config.LoggingConfig{Level: "loud"}, "agriportal")
	assert.Error(t, err)

	logger, err := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, "agriportal")
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
