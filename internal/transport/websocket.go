// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketDialer opens a push stream where each text frame carries one event.
type WebSocketDialer struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for baseURL + path. http(s) schemes
// are rewritten to ws(s).
func NewWebSocketDialer(baseURL, path string) *WebSocketDialer {
	if path == "" {
		path = DefaultWSPath
	}
	u := strings.TrimRight(baseURL, "/") + path
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WebSocketDialer{
		url: u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// URL returns the websocket endpoint.
func (d *WebSocketDialer) URL() string { return d.url }

// Dial connects to the websocket endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &HTTPError{Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return newWSStream(ctx, conn), nil
}

type wsStream struct {
	conn   *websocket.Conn
	closed chan struct{}
	once   sync.Once
}

// newWSStream wraps conn and closes it when ctx ends so a blocked read
// returns.
func newWSStream(ctx context.Context, conn *websocket.Conn) *wsStream {
	s := &wsStream{conn: conn, closed: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()
	return s
}

// Next reads the next text frame.
func (s *wsStream) Next(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrStreamClosed
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
