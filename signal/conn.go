// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is one established connection to the relay. ReadFrame blocks
// until a frame arrives or the connection dies; WriteFrame and Close
// may be called from any goroutine.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// Dialer establishes relay connections. The production implementation
// speaks websocket; tests use MemoryRelay.
type Dialer interface {
	// DialContext connects and authenticates with the given token.
	// A rejected token surfaces as an error here, not later.
	DialContext(ctx context.Context, token string) (Conn, error)
}

// WebsocketDialer returns a Dialer that connects to the relay's
// websocket endpoint, passing the auth token as a bearer header.
func WebsocketDialer(url string) Dialer {
	return &wsDialer{url: url}
}

type wsDialer struct {
	url string
}

func (d *wsDialer) DialContext(ctx context.Context, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, response, err := websocket.DefaultDialer.DialContext(ctx, d.url, header)
	if err != nil {
		if response != nil && response.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("relay rejected credentials: %w", err)
		}
		return nil, fmt.Errorf("dialing relay %s: %w", d.url, err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn wraps a websocket connection as a Conn. gorilla/websocket
// permits one concurrent reader and one concurrent writer; the write
// mutex serializes WriteFrame callers.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsConn) ReadFrame() (Frame, error) {
	var frame Frame
	if err := c.conn.ReadJSON(&frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (c *wsConn) WriteFrame(frame Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
