// Package gatewayclient is the peripheral Discord gateway WebSocket
// client (spec §1): it owns one WebSocket connection per assigned
// shard, identified by {shard_id, total_shards}, and emits decoded
// dispatch payloads for the owning internal/shard.Session to apply to
// the entity cache.
//
// This package has no analogue in torua, which has no WebSocket client
// at all; the connection lifecycle (dial, read loop goroutine,
// cancellable close with a drain wait) is grounded on the "worker
// requests a new gateway session... sends gateway close and waits for
// acknowledgement" behavior described in the specification, implemented
// with gorilla/websocket, the library used for equivalent gateway-client
// connections across the rest of the retrieval pack.
package gatewayclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// Identify is the {shard_id, total_shards} pair Discord's gateway
// requires on every IDENTIFY payload so it knows which guilds to route
// to this connection.
type Identify struct {
	ShardID     cluster.ShardID
	TotalShards int
}

// Dispatch is one decoded gateway event, op-coded for the caller.
type Dispatch struct {
	Type    string
	Payload json.RawMessage
}

// Session is one live gateway WebSocket connection for a single shard.
type Session struct {
	id Identify

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	dispatch chan Dispatch
	done     chan struct{}
}

// Dialer opens gateway sessions against a fixed endpoint, e.g. the URL
// returned by Discord's GET /gateway/bot.
type Dialer struct {
	Endpoint string
	Token    string
}

// Dial opens a new gateway session for id; ctx bounds the dial only. The
// returned Session's Dispatches channel is closed once the read loop
// exits, which happens when the connection is closed or a read fails.
func (d *Dialer) Dial(ctx context.Context, id Identify) (*Session, error) {
	u, err := url.Parse(d.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("gatewayclient: invalid endpoint: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("gatewayclient: dial shard %d: %w", id.ShardID, err)
	}

	s := &Session{
		id:       id,
		conn:     conn,
		dispatch: make(chan Dispatch, 64),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	defer close(s.dispatch)
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var env struct {
			T json.RawMessage `json:"t"`
			D json.RawMessage `json:"d"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		var eventType string
		_ = json.Unmarshal(env.T, &eventType)
		select {
		case s.dispatch <- Dispatch{Type: eventType, Payload: env.D}:
		default:
			// A stalled consumer must not block the read loop and delay
			// the next heartbeat ack; drop the event.
		}
	}
}

// Dispatches returns the channel of decoded events for this session.
func (s *Session) Dispatches() <-chan Dispatch { return s.dispatch }

// Identify returns the {shard_id, total_shards} this session was opened
// with.
func (s *Session) Identify() Identify { return s.id }

// Close sends a gateway close frame with the given 4000-series code and
// waits up to timeout for the remote to acknowledge (i.e. for the read
// loop to observe the close and exit) before returning, per spec §4.7.
func (s *Session) Close(code int, timeout time.Duration) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, "shard reassigned")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	select {
	case <-s.done:
	case <-time.After(timeout):
	}
	return conn.Close()
}
