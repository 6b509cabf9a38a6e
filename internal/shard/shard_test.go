package shard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/entitycache"
	"github.com/dreamware/shardcoord/internal/gatewayclient"
	"github.com/dreamware/shardcoord/internal/logx"
)

// newTestGatewayServer spins up a WebSocket server that sends a single
// dispatch envelope of the given type/payload, then waits for the
// client to initiate close.
func newTestGatewayServer(t *testing.T, eventType string, payload any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		data, _ := json.Marshal(payload)
		env := map[string]json.RawMessage{
			"t": mustJSON(t, eventType),
			"d": data,
		}
		_ = conn.WriteJSON(env)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}))
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestShard_StartAppliesGuildCreate(t *testing.T) {
	srv := newTestGatewayServer(t, "GUILD_CREATE", cluster.Guild{ID: "g1", Name: "test"})
	defer srv.Close()

	cache, err := entitycache.New(8)
	require.NoError(t, err)
	dialer := &gatewayclient.Dialer{Endpoint: wsURL(srv.URL)}

	s := New(0, 4, dialer, cache, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateActive, s.State())

	require.Eventually(t, func() bool {
		_, err := cache.GetGuild("g1")
		return err == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

func TestShard_CloseIsIdempotent(t *testing.T) {
	srv := newTestGatewayServer(t, "GUILD_CREATE", cluster.Guild{ID: "g1"})
	defer srv.Close()

	cache, err := entitycache.New(8)
	require.NoError(t, err)
	dialer := &gatewayclient.Dialer{Endpoint: wsURL(srv.URL)}

	s := New(1, 4, dialer, cache, logx.Nop())
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestShard_UnmodeledEventIsIgnored(t *testing.T) {
	srv := newTestGatewayServer(t, "PRESENCE_UPDATE", map[string]string{"status": "online"})
	defer srv.Close()

	cache, err := entitycache.New(8)
	require.NoError(t, err)
	dialer := &gatewayclient.Dialer{Endpoint: wsURL(srv.URL)}

	s := New(2, 4, dialer, cache, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	time.Sleep(50 * time.Millisecond)
	stats := s.Stats()
	assert.EqualValues(t, 0, stats.EventsApplied)
	assert.EqualValues(t, 0, stats.EventsDropped)
}
