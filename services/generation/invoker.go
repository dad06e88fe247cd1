// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generation triggers the functions that create missing rows in the
// persisted store.
//
// An Invoker only starts the work. Callers observe completion by reading the
// store, never through the Invoke return value.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
)

// Invoker starts a named generation function.
type Invoker interface {
	Invoke(ctx context.Context, function string, params map[string]string) error
}

// ErrDisabled is the cause reported by Nop.
var ErrDisabled = errors.New("generation disabled")

// ErrUnknownFunction is the cause reported for an unregistered function.
var ErrUnknownFunction = errors.New("unknown generation function")

var functionPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,62}$`)

// ValidateFunctionName rejects names that are not safe as a URL path segment.
func ValidateFunctionName(name string) error {
	if !functionPattern.MatchString(name) {
		return fmt.Errorf("invalid function name %q", name)
	}
	return nil
}

// Nop is an Invoker for deployments without generation.
type Nop struct{}

// Invoke always fails with a permanent trigger error.
func (Nop) Invoke(ctx context.Context, function string, params map[string]string) error {
	return faults.Permanent(faults.ErrGenerationTrigger, "invoke "+function, ErrDisabled)
}

// HTTPClient is the subset of *http.Client used by HTTPInvoker.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures an HTTPInvoker.
type HTTPConfig struct {
	// URL is the functions base URL, e.g. https://xyz.supabase.co/functions/v1.
	URL string

	// APIKey is sent as bearer token and apikey header.
	APIKey string

	// Timeout bounds each invocation. Default 15s.
	Timeout time.Duration

	HTTPClient HTTPClient
	Logger     *slog.Logger
}

// HTTPInvoker calls remote functions with POST <URL>/<function>.
type HTTPInvoker struct {
	base    *url.URL
	apiKey  string
	timeout time.Duration
	http    HTTPClient
	logger  *slog.Logger
}

// NewHTTPInvoker validates cfg and returns an HTTPInvoker.
func NewHTTPInvoker(cfg HTTPConfig) (*HTTPInvoker, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid functions url %q", cfg.URL)
	}
	inv := &HTTPInvoker{
		base:    base,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if inv.timeout <= 0 {
		inv.timeout = 15 * time.Second
	}
	if inv.http == nil {
		inv.http = &http.Client{}
	}
	if inv.logger == nil {
		inv.logger = slog.Default()
	}
	inv.logger = inv.logger.With("component", "generation")
	return inv, nil
}

// Invoke implements Invoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, function string, params map[string]string) error {
	op := "invoke " + function
	if err := ValidateFunctionName(function); err != nil {
		return faults.Permanent(faults.ErrGenerationTrigger, op, err)
	}

	body, err := json.Marshal(params)
	if err != nil {
		return faults.Permanent(faults.ErrGenerationTrigger, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	target := *h.base
	target.Path = h.base.Path + "/" + function
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return faults.Permanent(faults.ErrGenerationTrigger, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
		req.Header.Set("apikey", h.apiKey)
	}

	resp, err := h.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return faults.Transient(faults.ErrGenerationTrigger, op, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.logger.Debug("generation triggered", "function", function)
		return nil
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	switch {
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return faults.Transient(faults.ErrGenerationTrigger, op, cause)
	default:
		return faults.Permanent(faults.ErrGenerationTrigger, op, cause)
	}
}
