// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AgriPortal/services/agri"
)

// Conditions describe the weather an advisory is written for.
type Conditions struct {
	State       string
	District    string
	Season      agri.Season
	Temperature float64
	Humidity    float64
	Rainfall    float64
}

// Advisor writes the agricultural advisory attached to generated weather.
type Advisor interface {
	Advise(ctx context.Context, c Conditions) (string, error)
}

// RuleAdvisor applies fixed seasonal thresholds.
type RuleAdvisor struct{}

// Advise implements Advisor. It never fails.
func (RuleAdvisor) Advise(_ context.Context, c Conditions) (string, error) {
	switch c.Season {
	case agri.SeasonSummer:
		if c.Temperature > 40 {
			return "High temperature alert! Increase irrigation frequency and provide shade if possible.", nil
		}
		return "Regular irrigation recommended. Monitor soil moisture levels.", nil
	case agri.SeasonMonsoon:
		if c.Rainfall > 30 {
			return "Heavy rainfall alert! Ensure proper drainage and protect crops from waterlogging.", nil
		}
		return "Monitor for pest and disease outbreaks. Apply preventive measures.", nil
	default:
		if c.Temperature < 20 {
			return "Low temperature alert! Protect crops from frost damage.", nil
		}
		return "Normal winter conditions. Continue regular maintenance.", nil
	}
}

// ChatCompleter is the subset of *openai.Client used by LLMAdvisor.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// LLMConfig configures an LLMAdvisor.
type LLMConfig struct {
	APIKey string

	// BaseURL points at any OpenAI-compatible endpoint. Empty uses OpenAI.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout bounds one completion. Default 10s.
	Timeout time.Duration

	Logger *slog.Logger
}

// LLMAdvisor asks a chat model for the advisory and falls back to the
// rules when the call fails or returns nothing.
type LLMAdvisor struct {
	client   ChatCompleter
	model    string
	timeout  time.Duration
	fallback Advisor
	logger   *slog.Logger
}

// NewLLMAdvisor builds an advisor backed by the OpenAI API.
func NewLLMAdvisor(cfg LLMConfig) *LLMAdvisor {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return NewLLMAdvisorWithClient(openai.NewClientWithConfig(oc), cfg)
}

// NewLLMAdvisorWithClient builds an advisor on an existing client.
func NewLLMAdvisorWithClient(client ChatCompleter, cfg LLMConfig) *LLMAdvisor {
	a := &LLMAdvisor{
		client:   client,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		fallback: RuleAdvisor{},
		logger:   cfg.Logger,
	}
	if a.model == "" {
		a.model = "gpt-4o-mini"
	}
	if a.timeout <= 0 {
		a.timeout = 10 * time.Second
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "advisor", "model", a.model)
	return a
}

const advisorPersona = "You are an agricultural extension officer in India. " +
	"Reply with one or two short sentences of practical advice for farmers. No greetings."

// Advise implements Advisor.
func (a *LLMAdvisor) Advise(ctx context.Context, c Conditions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Season: %s. Location: %s, %s. Temperature %.0f°C, humidity %.0f%%, rainfall %.0f mm. Give the farm advisory.",
		c.Season, c.District, c.State, c.Temperature, c.Humidity, c.Rainfall)

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: advisorPersona},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxCompletionTokens: 120,
	})
	if err != nil {
		a.logger.Warn("advisory model call failed, using rules", "error", err)
		return a.fallback.Advise(ctx, c)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		a.logger.Warn("advisory model returned no content, using rules")
		return a.fallback.Advise(ctx, c)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
