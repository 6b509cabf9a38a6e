// Package integration exercises CoordinatorService and WorkerService
// together over real HTTP, using httptest servers in place of separate
// processes: basic assignment, worker leave, and cache routing by shard.
package integration

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/coordinator"
	"github.com/dreamware/shardcoord/internal/distcache"
	"github.com/dreamware/shardcoord/internal/entitycache"
	"github.com/dreamware/shardcoord/internal/gatewayclient"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/worker"
)

// testWorker wraps a worker.Service behind an httptest.Server, standing
// in for a separate worker process.
type testWorker struct {
	id  cluster.ProcessID
	svc *worker.Service
	srv *httptest.Server
}

func newTestWorker(t *testing.T, id cluster.ProcessID, coordURL string, client *httpclient.Client) *testWorker {
	t.Helper()
	cache, err := entitycache.New(0)
	require.NoError(t, err)
	dialer := &gatewayclient.Dialer{Endpoint: "ws://unused"}

	tw := &testWorker{id: id}
	svc := worker.New(id, "", coordURL, client, dialer, cache, logx.Nop())
	tw.svc = svc
	tw.srv = httptest.NewServer(svc.Router())
	return tw
}

func TestClusterLifecycle_BasicAssignmentAndLeave(t *testing.T) {
	client := httpclient.New()
	coord := coordinator.New("coord", "", 4, client, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)
	coordSrv := httptest.NewServer(coord.Router())
	defer coordSrv.Close()

	// S1: workers register in order A, B, C and should end up with a
	// round-robin split of the 4 shards by join order. Each registration
	// response reflects the split among the workers registered so far.
	a := newTestWorker(t, "A", coordSrv.URL, client)
	defer a.srv.Close()
	respA, err := coord.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: a.id, URL: a.srv.URL})
	require.NoError(t, err)
	assert.ElementsMatch(t, []cluster.ShardID{0, 1, 2, 3}, respA.AssignedShards)

	b := newTestWorker(t, "B", coordSrv.URL, client)
	defer b.srv.Close()
	respB, err := coord.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: b.id, URL: b.srv.URL})
	require.NoError(t, err)
	assert.ElementsMatch(t, []cluster.ShardID{1, 3}, respB.AssignedShards)

	c := newTestWorker(t, "C", coordSrv.URL, client)
	defer c.srv.Close()
	respC, err := coord.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: c.id, URL: c.srv.URL})
	require.NoError(t, err)
	assert.ElementsMatch(t, []cluster.ShardID{2}, respC.AssignedShards)

	state := coord.ClusterState()
	assert.ElementsMatch(t, []cluster.ShardID{0, 3}, state.Assignment.Assignments["A"])
	assert.ElementsMatch(t, []cluster.ShardID{1}, state.Assignment.Assignments["B"])
	assert.ElementsMatch(t, []cluster.ShardID{2}, state.Assignment.Assignments["C"])
	epochAfterJoins := state.Epoch

	// S2: B leaves; its shard is redistributed across the remaining two
	// workers and the epoch advances.
	require.NoError(t, coord.Deregister(context.Background(), cluster.DeregisterRequest{ProcessID: "B"}))

	state = coord.ClusterState()
	assert.ElementsMatch(t, []cluster.ShardID{0, 2}, state.Assignment.Assignments["A"])
	assert.ElementsMatch(t, []cluster.ShardID{1, 3}, state.Assignment.Assignments["C"])
	assert.NotContains(t, state.Assignment.Assignments, cluster.ProcessID("B"))
	assert.Greater(t, state.Epoch, epochAfterJoins)
}

func TestClusterLifecycle_CacheRoutesToOwningWorker(t *testing.T) {
	client := httpclient.New()
	coord := coordinator.New("coord", "", 16, client, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coord.Start(ctx)

	w1 := newTestWorker(t, "W1", "", client)
	defer w1.srv.Close()
	_, err := coord.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "W1", URL: w1.srv.URL})
	require.NoError(t, err)

	const guildID = "81384788765712384" // spec's worked example: shard 2 of 16
	require.NoError(t, w1.svc.ApplyAssignment(context.Background(), cluster.AssignmentPush{AssignedShards: []cluster.ShardID{2}, TotalShards: 16, Epoch: 1}))

	cache := distcache.New(coord.Registry(), client, logx.Nop(), func() int { return 16 })

	got := cache.GetGuild(context.Background(), guildID)
	assert.Nil(t, got, "no GUILD_CREATE has been seen yet, so a best-effort miss is expected, not an error")

	w1.svc.Cache().PutGuild(cluster.Guild{ID: guildID, Name: "S5"})
	got = cache.GetGuild(context.Background(), guildID)
	require.NotNil(t, got, "the owning worker has the guild cached, so the routed request must hit")
	assert.Equal(t, "S5", got.Name)
}

func TestClusterLifecycle_CoordinatorFailoverAndResumption(t *testing.T) {
	client := httpclient.New()

	coordCtx, coordCancel := context.WithCancel(context.Background())
	coord := coordinator.New("coord", "", 2, client, logx.Nop())
	coord.Start(coordCtx)

	a := newTestWorker(t, "A", "", client)
	defer a.srv.Close()
	_, err := coord.RegisterWorker(context.Background(), cluster.RegisterRequest{ProcessID: "A", URL: a.srv.URL})
	require.NoError(t, err)

	// The coordinator dies; A receives a succession broadcast naming
	// itself as the new coordinator and adopts its URL and epoch.
	coordCancel()

	a.svc.AcceptSuccession(cluster.SuccessionBroadcast{NewCoordinatorID: "A", NewCoordinatorURL: a.srv.URL, Epoch: 99})
	assert.Equal(t, a.srv.URL, a.svc.CoordinatorURL())
	assert.EqualValues(t, 99, a.svc.Epoch())

	// The original coordinator returns and sends a resumed notice; A
	// verifies it via /health and must defer to it.
	resumed := mustReachableServer(t)
	err = a.svc.ReconcileResumed(context.Background(), cluster.ResumedNotice{
		ResumedCoordinatorID:  "coord",
		ResumedCoordinatorURL: resumed.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, resumed.URL, a.svc.CoordinatorURL())
}

// mustReachableServer starts a coordinator with no workers behind a real
// HTTP server. With no workers every shard is Pending, so its /health
// answers "degraded" — enough for ReconcileResumed's reachability check.
func mustReachableServer(t *testing.T) *httptest.Server {
	t.Helper()
	client := httpclient.New()
	coord := coordinator.New("coord", "", 2, client, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord.Start(ctx)
	srv := httptest.NewServer(coord.Router())
	t.Cleanup(srv.Close)

	require.Eventually(t, func() bool {
		return coord.Health().Status == "degraded"
	}, time.Second, 10*time.Millisecond)
	return srv
}
