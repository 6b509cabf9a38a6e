package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/entitycache"
	"github.com/dreamware/shardcoord/internal/gatewayclient"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
)

func newTestWorkerWithPeers(t *testing.T, peers []cluster.PeerNode) *Service {
	t.Helper()
	cache, err := entitycache.New(0)
	require.NoError(t, err)
	dialer := &gatewayclient.Dialer{Endpoint: "ws://unused"}
	s := New("w1", "http://w1", "http://coordinator", httpclient.New(), dialer, cache, logx.Nop())
	s.mu.Lock()
	s.lastPeers = peers
	s.totalShards = 4
	s.mu.Unlock()
	return s
}

func TestEvaluateSuccession_RankZeroPromotesSelf(t *testing.T) {
	peers := []cluster.PeerNode{
		{ProcessID: "w1", URL: "http://w1", JoinedAt: time.Unix(1, 0)},
		{ProcessID: "w2", URL: "http://w2", JoinedAt: time.Unix(2, 0)},
	}
	s := newTestWorkerWithPeers(t, peers)

	s.evaluateSuccession(context.Background())

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.promoted != nil
	}, time.Second, 10*time.Millisecond)
}

func TestAcceptSuccession_AdoptsHigherEpoch(t *testing.T) {
	s := newTestWorkerWithPeers(t, nil)

	s.AcceptSuccession(cluster.SuccessionBroadcast{NewCoordinatorID: "w2", NewCoordinatorURL: "http://w2", Epoch: 9})

	assert.Equal(t, "http://w2", s.CoordinatorURL())
	assert.EqualValues(t, 9, s.Epoch())
}

func TestAcceptSuccession_IgnoresStaleEpoch(t *testing.T) {
	s := newTestWorkerWithPeers(t, nil)
	s.AcceptSuccession(cluster.SuccessionBroadcast{NewCoordinatorID: "w2", NewCoordinatorURL: "http://w2", Epoch: 9})

	s.AcceptSuccession(cluster.SuccessionBroadcast{NewCoordinatorID: "w3", NewCoordinatorURL: "http://w3", Epoch: 3})

	assert.Equal(t, "http://w2", s.CoordinatorURL())
	assert.EqualValues(t, 9, s.Epoch())
}
