// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package postgrest is a persisted store backed by a Supabase project: the
// PostgREST HTTP API for reads and writes and the Realtime websocket for
// change notifications.
//
// Error classification follows HTTP status, never message text:
//
//	network failure, 408, 425, 429, 5xx  -> transient
//	PGRST116 or an empty result          -> not found
//	any other 4xx                        -> permanent
package postgrest

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
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/pkg/validation"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// HTTPClient is the subset of *http.Client used by the adapter.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string

	// APIKey is sent as both apikey and bearer token.
	APIKey string

	// Schema is the Postgres schema exposed by PostgREST. Default "public".
	Schema string

	// RealtimeURL overrides the websocket endpoint. Derived from URL when empty.
	RealtimeURL string

	// Heartbeat is the realtime keep-alive interval. Default 25s.
	Heartbeat time.Duration

	// JoinTimeout bounds the wait for a channel join reply. Default 10s.
	JoinTimeout time.Duration

	HTTPClient HTTPClient
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client implements store.Store against PostgREST and Supabase Realtime.
type Client struct {
	base        *url.URL
	apiKey      string
	schema      string
	realtimeURL string
	heartbeat   time.Duration
	joinTimeout time.Duration
	http        HTTPClient
	dialer      *websocket.Dialer
	logger      *slog.Logger
}

var _ store.Store = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid store url %q", cfg.URL)
	}

	c := &Client{
		base:        base,
		apiKey:      cfg.APIKey,
		schema:      cfg.Schema,
		realtimeURL: cfg.RealtimeURL,
		heartbeat:   cfg.Heartbeat,
		joinTimeout: cfg.JoinTimeout,
		http:        cfg.HTTPClient,
		dialer:      cfg.Dialer,
		logger:      cfg.Logger,
	}
	if c.schema == "" {
		c.schema = "public"
	}
	if c.heartbeat <= 0 {
		c.heartbeat = 25 * time.Second
	}
	if c.joinTimeout <= 0 {
		c.joinTimeout = 10 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "postgrest")

	if c.realtimeURL == "" {
		ws := *base
		switch base.Scheme {
		case "https":
			ws.Scheme = "wss"
		default:
			ws.Scheme = "ws"
		}
		ws.Path = "/realtime/v1/websocket"
		c.realtimeURL = ws.String()
	}
	return c, nil
}

// apiError is the PostgREST error body.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *apiError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// codeNoRows is PostgREST's "JSON object requested, multiple (or no) rows returned".
const codeNoRows = "PGRST116"

// transientStatus reports whether an HTTP status may succeed on retry.
func transientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func (c *Client) restURL(table string, params url.Values) string {
	u := *c.base
	u.Path = "/rest/v1/" + table
	u.RawQuery = params.Encode()
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodGet {
		req.Header.Set("Accept-Profile", c.schema)
	} else {
		req.Header.Set("Content-Profile", c.schema)
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Select implements store.Reader.
func (c *Client) Select(ctx context.Context, q store.Query) ([]agri.Payload, error) {
	op := "select " + q.Table
	if err := validation.ValidateTable(q.Table); err != nil {
		return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
	}

	params := url.Values{}
	params.Set("select", "*")
	for col, val := range q.Eq {
		if err := validation.ValidateTable(col); err != nil {
			return nil, faults.Permanent(faults.ErrInvalidRequest, op, fmt.Errorf("column: %w", err))
		}
		params.Set(col, "eq."+val)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.restURL(q.Table, params), nil)
	if err != nil {
		return nil, faults.Permanent(faults.ErrStoreTransport, op, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, faults.ErrStoreTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := decodeError(resp)
		switch {
		case apiErr.Code == codeNoRows:
			return nil, faults.NotFound(op)
		case transientStatus(resp.StatusCode):
			return nil, faults.Transient(faults.ErrStoreTransport, op, apiErr)
		default:
			return nil, faults.Permanent(faults.ErrStoreTransport, op, apiErr)
		}
	}

	var rows []agri.Payload
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, faults.Transient(faults.ErrStoreTransport, op, fmt.Errorf("decode rows: %w", err))
	}
	if len(rows) == 0 {
		return nil, faults.NotFound(op)
	}
	return rows, nil
}

// Insert implements store.Writer.
func (c *Client) Insert(ctx context.Context, table string, rows []agri.Payload) error {
	op := "insert " + table
	if err := validation.ValidateTable(table); err != nil {
		return faults.Permanent(faults.ErrBatchValidation, op, err)
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return faults.Permanent(faults.ErrBatchValidation, op, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.restURL(table, nil), bytes.NewReader(body))
	if err != nil {
		return faults.Permanent(faults.ErrBatchValidation, op, err)
	}
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(ctx, faults.ErrBatchTransient, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	apiErr := decodeError(resp)
	if transientStatus(resp.StatusCode) {
		return faults.Transient(faults.ErrBatchTransient, op, apiErr)
	}
	return faults.Permanent(faults.ErrBatchValidation, op, apiErr)
}

// transportError classifies a failed round trip. A canceled context is
// returned as is so callers can stop.
func (c *Client) transportError(ctx context.Context, kind error, op string, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return faults.Transient(kind, op, err)
}

func decodeError(resp *http.Response) *apiError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &apiError{}
	if err := json.Unmarshal(data, apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr.Code = strconv.Itoa(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}
