// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/pkg/validation"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/store"
)

// phxMessage is a Phoenix channel frame as spoken by Supabase Realtime.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
}

type joinReply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type postgresChange struct {
	Data struct {
		Table     string       `json:"table"`
		Type      string       `json:"type"`
		Record    agri.Payload `json:"record"`
		OldRecord agri.Payload `json:"old_record"`
	} `json:"data"`
}

// Subscribe joins the realtime channel for table and streams its row
// changes until Close is called or the connection drops. A dropped
// connection ends the feed with a transient error; it is not re-dialed.
func (c *Client) Subscribe(ctx context.Context, table string) (store.Subscription, error) {
	op := "subscribe " + table
	if err := validation.ValidateTable(table); err != nil {
		return nil, faults.Permanent(faults.ErrInvalidRequest, op, err)
	}

	target, err := url.Parse(c.realtimeURL)
	if err != nil {
		return nil, faults.Permanent(faults.ErrStoreTransport, op, err)
	}
	q := target.Query()
	q.Set("apikey", c.apiKey)
	q.Set("vsn", "1.0.0")
	target.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, c.transportError(ctx, faults.ErrStoreTransport, op, err)
	}

	ch := &channel{
		conn:  conn,
		topic: fmt.Sprintf("realtime:%s:%s", c.schema, table),
	}
	if err := ch.join(ctx, c.schema, table, c.apiKey, c.joinTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	feed := store.NewFeed(64, cancel)

	go func() {
		var wg sync.WaitGroup
		hbCtx, stopHeartbeat := context.WithCancel(context.Background())
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.keepAlive(subCtx, hbCtx, c.heartbeat)
		}()

		err := ch.read(subCtx, table, feed)
		if subCtx.Err() != nil {
			err = nil
		} else if err != nil {
			c.logger.Warn("realtime subscription lost", "table", table, "error", err)
			err = faults.Transient(faults.ErrStoreTransport, op, err)
		}

		stopHeartbeat()
		conn.Close()
		wg.Wait()
		feed.Finish(err)
	}()

	return feed, nil
}

// channel is one joined realtime topic. Only keepAlive writes after join.
type channel struct {
	conn  *websocket.Conn
	topic string
	ref   atomic.Uint64
	wmu   sync.Mutex
}

func (ch *channel) nextRef() string {
	return strconv.FormatUint(ch.ref.Add(1), 10)
}

func (ch *channel) send(event, topic string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	ref := ch.nextRef()
	ch.wmu.Lock()
	defer ch.wmu.Unlock()
	return ref, ch.conn.WriteJSON(phxMessage{Topic: topic, Event: event, Payload: raw, Ref: &ref})
}

func (ch *channel) join(ctx context.Context, schema, table, apiKey string, timeout time.Duration) error {
	op := "subscribe " + table
	payload := map[string]any{
		"config": map[string]any{
			"broadcast": map[string]any{"self": false},
			"presence":  map[string]any{"key": ""},
			"postgres_changes": []map[string]string{
				{"event": "*", "schema": schema, "table": table},
			},
		},
		"access_token": apiKey,
	}
	ref, err := ch.send("phx_join", ch.topic, payload)
	if err != nil {
		return faults.Transient(faults.ErrStoreTransport, op, err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = ch.conn.SetReadDeadline(deadline)
	defer func() { _ = ch.conn.SetReadDeadline(time.Time{}) }()

	for {
		var msg phxMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			return faults.Transient(faults.ErrStoreTransport, op, fmt.Errorf("await join reply: %w", err))
		}
		if msg.Event != "phx_reply" || msg.Ref == nil || *msg.Ref != ref {
			continue
		}
		var reply joinReply
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return faults.Transient(faults.ErrStoreTransport, op, err)
		}
		if reply.Status != "ok" {
			return faults.Permanent(faults.ErrStoreTransport, op, fmt.Errorf("join rejected: %s", reply.Response))
		}
		return nil
	}
}

func (ch *channel) keepAlive(subCtx, hbCtx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-subCtx.Done():
			// Unblock the reader.
			ch.conn.Close()
			return
		case <-hbCtx.Done():
			return
		case <-ticker.C:
			if _, err := ch.send("heartbeat", "phoenix", map[string]any{}); err != nil {
				return
			}
		}
	}
}

var errChannelClosed = errors.New("realtime channel closed by server")

func (ch *channel) read(ctx context.Context, table string, feed *store.Feed) error {
	for {
		var msg phxMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			return err
		}
		if msg.Topic != ch.topic {
			continue
		}
		switch msg.Event {
		case "postgres_changes":
			var change postgresChange
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				continue
			}
			ev := store.ChangeEvent{
				Table:  table,
				Type:   store.ChangeType(change.Data.Type),
				Record: change.Data.Record,
				Old:    change.Data.OldRecord,
			}
			if !feed.Publish(ctx, ev) {
				return ctx.Err()
			}
		case "phx_close", "phx_error":
			return errChannelClosed
		}
	}
}
