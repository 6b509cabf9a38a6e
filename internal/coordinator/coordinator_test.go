package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
)

func newTestService(t *testing.T, total int) (*Service, context.CancelFunc) {
	t.Helper()
	s := New("coord", "http://coordinator", total, httpclient.New(), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	return s, cancel
}

// ackWorker starts an httptest.Server that 200s every assignment push, so
// a registered worker's URL is actually reachable and a rebalance
// succeeds rather than immediately suspecting it.
func ackWorker(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterWorker_AssignsShardsAndBumpsEpoch(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1 := ackWorker(t)

	resp, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.TotalShards)
	assert.Len(t, resp.AssignedShards, 4)
	assert.EqualValues(t, 1, resp.Epoch)
	assert.Equal(t, 0, resp.SuccessionRank)
}

func TestRegisterWorker_SecondWorkerRebalances(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1, w2 := ackWorker(t), ackWorker(t)

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)
	resp2, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w2", URL: w2.URL})
	require.NoError(t, err)

	assert.Len(t, resp2.AssignedShards, 2)
	assert.EqualValues(t, 2, resp2.Epoch)
}

func TestHeartbeat_UnknownProcessIsInvalidState(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()

	_, err := s.Heartbeat(cluster.HeartbeatRequest{ProcessID: "ghost", Epoch: 0})
	require.Error(t, err)
}

func TestDeregister_TriggersRebalance(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1, w2 := ackWorker(t), ackWorker(t)

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)
	_, err = s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w2", URL: w2.URL})
	require.NoError(t, err)

	require.NoError(t, s.Deregister(context.Background(), cluster.DeregisterRequest{ProcessID: "w2"}))

	state := s.ClusterState()
	assert.Len(t, state.Assignment.Assignments["w1"], 4)
	assert.NotContains(t, state.Assignment.Assignments, cluster.ProcessID("w2"))
}

func TestClusterState_ReflectsSuccessionOrder(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1 := ackWorker(t)

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)

	state := s.ClusterState()
	require.Len(t, state.SuccessionOrder, 1)
	assert.Equal(t, cluster.ProcessID("w1"), state.SuccessionOrder[0].ProcessID)
}

func TestHealth_DegradedAfterDemotion(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1 := ackWorker(t)

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)

	h := s.Health()
	assert.Equal(t, "healthy", h.Status)

	s.AcceptSuccession(cluster.SuccessionBroadcast{NewCoordinatorID: "other", Epoch: h.Epoch + 5})

	h2 := s.Health()
	assert.Equal(t, "degraded", h2.Status)
	assert.Equal(t, h.Epoch+5, h2.Epoch)
}

// TestRegisterWorker_UnreachablePeerMarkedSuspectAndPending covers the
// failed-push path: a worker registered at a URL nothing is listening on
// must not end up silently holding shards it never confirmed.
func TestRegisterWorker_UnreachablePeerMarkedSuspectAndPending(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "ghost", URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	state := s.ClusterState()
	assert.Empty(t, state.Assignment.Assignments["ghost"], "an unconfirmed push must not leave shards attributed to the peer")
	assert.Len(t, state.Assignment.Pending, 4, "shards whose push failed must come back as pending")

	peer, ok := s.Registry().Get("ghost")
	require.True(t, ok)
	assert.Equal(t, cluster.PeerSuspect, peer.State)
}

// TestHealth_DegradedWhenPeerSuspect covers the registry-derived half of
// Health, independent of the active/inactive flag.
func TestHealth_DegradedWhenPeerSuspect(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1 := ackWorker(t)

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)
	require.True(t, s.Registry().SetState("w1", cluster.PeerSuspect))

	h := s.Health()
	assert.Equal(t, "degraded", h.Status)
}

// TestHealth_DegradedWhenShardsPending covers the assignment-derived
// half of Health: an unrouted shard is a degraded cluster even with no
// peer Suspect — with no workers registered, every shard is Pending.
func TestHealth_DegradedWhenShardsPending(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()

	h := s.Health()
	require.Equal(t, "degraded", h.Status, "no workers yet means every shard is parked in Pending")

	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "ghost", URL: "http://127.0.0.1:1"})
	require.NoError(t, err)

	h2 := s.Health()
	assert.Equal(t, "degraded", h2.Status)
}

func TestResumeHandoff_RoundTrips(t *testing.T) {
	s, cancel := newTestService(t, 4)
	defer cancel()
	w1 := ackWorker(t)
	_, err := s.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "w1", URL: w1.URL})
	require.NoError(t, err)

	handoff, err := s.HandleResume(context.Background(), cluster.ResumeRequest{
		OriginalCoordinatorID: "coord", OriginalCoordinatorURL: "http://coordinator", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, handoff.TotalShards)
	require.Len(t, handoff.Peers, 1)

	h := s.Health()
	assert.Equal(t, "degraded", h.Status, "service should mark itself inactive once it has handed off")
}
