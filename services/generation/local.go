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
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// Func builds one row for the table it returns.
type Func func(ctx context.Context, params map[string]string) (table string, row agri.Payload, err error)

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("invoker closed")

// LocalInvoker runs registered functions in process and inserts their rows
// into a store in the background.
type LocalInvoker struct {
	writer  store.Writer
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	funcs  map[string]Func
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLocalInvoker returns an invoker writing to w.
func NewLocalInvoker(w store.Writer, logger *slog.Logger) *LocalInvoker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalInvoker{
		writer:  w,
		timeout: 30 * time.Second,
		logger:  logger.With("component", "generation"),
		funcs:   make(map[string]Func),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register binds name to fn, replacing any earlier binding.
func (l *LocalInvoker) Register(name string, fn Func) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.funcs[name] = fn
}

// Invoke starts fn in the background. It returns once the work is
// scheduled; the invocation outlives ctx.
func (l *LocalInvoker) Invoke(ctx context.Context, function string, params map[string]string) error {
	op := "invoke " + function

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return faults.Permanent(faults.ErrGenerationTrigger, op, ErrClosed)
	}
	fn, ok := l.funcs[function]
	if !ok {
		return faults.Permanent(faults.ErrGenerationTrigger, op, ErrUnknownFunction)
	}

	args := make(map[string]string, len(params))
	for k, v := range params {
		args[k] = v
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(function, fn, args)
	}()
	return nil
}

func (l *LocalInvoker) run(name string, fn Func, params map[string]string) {
	ctx, cancel := context.WithTimeout(l.ctx, l.timeout)
	defer cancel()

	table, row, err := fn(ctx, params)
	if err != nil {
		l.logger.Warn("generation function failed", "function", name, "error", err)
		return
	}
	if row.String("id") == "" {
		row["id"] = uuid.NewString()
	}
	if err := l.writer.Insert(ctx, table, []agri.Payload{row}); err != nil {
		l.logger.Warn("generated row not stored", "function", name, "table", table, "error", err)
		return
	}
	l.logger.Info("generated row stored", "function", name, "table", table, "id", row["id"])
}

// Close stops accepting work, cancels running functions and waits for them.
func (l *LocalInvoker) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.wg.Wait()
	return nil
}
