package worker

import (
	"context"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/coordinator"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/succession"
)

// onHeartbeatMissed is called by the heartbeat Sender on every
// consecutive failed heartbeat. Once the coordinator has missed
// heartbeat.MissedThreshold replies, per spec §4.8 this worker confirms
// via a direct /health probe and, if that also fails, begins succession
// evaluation independently of any other peer.
func (s *Service) onHeartbeatMissed(consecutive int) {
	if consecutive < 3 {
		return
	}
	ctx := context.Background()
	if reachable := s.probeCoordinator(ctx); reachable {
		return
	}
	s.evaluateSuccession(ctx)
}

func (s *Service) probeCoordinator(ctx context.Context) bool {
	_, err := httpclient.Get[cluster.HealthStatus](ctx, s.client, s.CoordinatorURL()+"/health")
	return err == nil
}

// onHeartbeatRecovered cancels any pending promotion timer — the
// coordinator answered again, so this worker no longer needs to take
// over.
func (s *Service) onHeartbeatRecovered() {
	s.evaluator.Cancel()
}

// evaluateSuccession recomputes SuccessionOrder from this worker's last
// known peer snapshot, determines its own rank, and either promotes
// immediately (rank 0) or arms a promotion timer proportional to rank
// (spec §4.8).
func (s *Service) evaluateSuccession(ctx context.Context) {
	s.mu.Lock()
	peers := append([]cluster.PeerNode(nil), s.lastPeers...)
	coordID := cluster.ProcessID("") // the dead coordinator isn't itself a succession candidate
	s.mu.Unlock()

	order := succession.ComputeOrder(peers, coordID)
	rank, ok := succession.RankOf(order, s.selfID)
	if !ok {
		s.log.Warn("worker not present in succession order; cannot evaluate", logx.F("process_id", s.selfID))
		return
	}

	s.evaluator.Start(ctx, rank, func() { s.promote(ctx, order) })
}

// promote transitions this worker to Temporary Coordinator: it embeds a
// fresh coordinator.Service seeded with the last known peer set,
// installs its own peers into the new registry, and broadcasts
// succession to every peer at epoch+1.
func (s *Service) promote(ctx context.Context, order []cluster.SuccessionEntry) {
	s.mu.Lock()
	if s.promoted != nil {
		s.mu.Unlock()
		return
	}
	epoch := s.localEpoch + 1
	total := s.totalShards
	peers := append([]cluster.PeerNode(nil), s.lastPeers...)
	s.mu.Unlock()

	svc := coordinator.New(s.selfID, s.selfURL, total, s.client, s.log)
	for _, p := range peers {
		if p.ProcessID == s.selfID {
			continue
		}
		svc.Registry().Upsert(p)
	}
	svc.Start(ctx)

	s.mu.Lock()
	s.promoted = svc
	s.coordinatorURL = s.selfURL
	s.localEpoch = epoch
	s.mu.Unlock()

	s.log.Warn("promoted to temporary coordinator", logx.F("process_id", s.selfID), logx.F("epoch", epoch))

	broadcast := cluster.SuccessionBroadcast{NewCoordinatorID: s.selfID, NewCoordinatorURL: s.selfURL, Epoch: epoch}
	for _, p := range peers {
		if p.ProcessID == s.selfID {
			continue
		}
		go func(url string) {
			_ = httpclient.PostAck(ctx, s.client, url+"/cluster/succession", broadcast)
		}(p.URL)
	}
}

// AcceptSuccession handles an incoming /cluster/succession broadcast
// (spec §4.8): if it wins the split-brain tie-break against this
// worker's own state, the worker cancels its own promotion timer and
// adopts the new coordinator's URL and epoch.
func (s *Service) AcceptSuccession(b cluster.SuccessionBroadcast) {
	s.mu.Lock()
	currentEpoch := s.localEpoch
	s.mu.Unlock()

	if !succession.Wins(b.Epoch, b.NewCoordinatorID, currentEpoch, s.selfID) && b.Epoch <= currentEpoch {
		return
	}

	s.evaluator.Cancel()
	s.mu.Lock()
	s.coordinatorURL = b.NewCoordinatorURL
	s.localEpoch = b.Epoch
	s.mu.Unlock()
	s.log.Info("accepted succession broadcast", logx.F("new_coordinator_id", b.NewCoordinatorID), logx.F("epoch", b.Epoch))
}
