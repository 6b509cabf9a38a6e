package coordinator

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/coreerr"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/succession"
)

// ResumePollInterval and ResumeMaxAttempts bound how long a restarting
// original coordinator waits for the active Temporary Coordinator to
// answer /health, per spec §4.9.
const (
	ResumePollInterval = 5 * time.Second
	ResumeMaxAttempts  = 60
)

// AcceptSuccession handles an incoming /cluster/succession broadcast
// (spec §4.8). It only matters to a Service currently acting as
// Temporary Coordinator: if the broadcast's epoch wins the split-brain
// tie-break against this service's own epoch, this service demotes
// itself, since a higher-priority peer has already taken over.
func (s *Service) AcceptSuccession(b cluster.SuccessionBroadcast) {
	s.exec(func() {
		if !succession.Wins(b.Epoch, b.NewCoordinatorID, s.epoch, s.selfID) {
			return
		}
		s.epoch = b.Epoch
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
		s.log.Warn("demoted by competing succession broadcast",
			logx.F("new_coordinator_id", b.NewCoordinatorID), logx.F("epoch", b.Epoch))
	})
}

// HandleResume handles POST /coordinator/resume (spec §4.9 step 2),
// received by the currently active coordinator (almost always a
// Temporary Coordinator) from a restarting original coordinator. It
// packages the authoritative state as a CoordinatorHandoff at epoch+1
// and marks itself inactive; the caller (worker.Service, when this
// Service is embedded as a promoted Temporary Coordinator) is
// responsible for demoting back to plain Worker once its own
// /coordinator/resumed notification round-trips.
func (s *Service) HandleResume(ctx context.Context, req cluster.ResumeRequest) (cluster.CoordinatorHandoff, error) {
	var handoff cluster.CoordinatorHandoff
	s.exec(func() {
		s.epoch++
		handoff = cluster.CoordinatorHandoff{
			TotalShards:            s.totalShards,
			Peers:                  s.reg.Snapshot(),
			Assignments:            s.assignment.Clone(),
			SuccessionOrder:        append([]cluster.SuccessionEntry(nil), s.successionOrder...),
			Epoch:                  s.epoch,
			TemporaryCoordinatorID: s.selfID,
		}
		s.mu.Lock()
		s.active = false
		s.mu.Unlock()
	})
	s.log.Info("handing off to resumed original coordinator",
		logx.F("original_coordinator_id", req.OriginalCoordinatorID), logx.F("epoch", handoff.Epoch))
	return handoff, nil
}

// ApplyHandoff installs handoff as this Service's authoritative state,
// called by a restarting original coordinator once Resume returns. This
// is the Open Question's resolution (spec §9): handoff is applied
// directly, with no intermediate LoadHandoffData representation — the
// wire type and the in-memory state are the same shape, so a separate
// loader would only add indirection.
func (s *Service) ApplyHandoff(handoff cluster.CoordinatorHandoff) {
	s.exec(func() {
		s.totalShards = handoff.TotalShards
		s.assignment = handoff.Assignments.Clone()
		s.successionOrder = append([]cluster.SuccessionEntry(nil), handoff.SuccessionOrder...)
		s.epoch = handoff.Epoch
		for _, p := range handoff.Peers {
			s.reg.Upsert(p)
		}
		s.mu.Lock()
		s.active = true
		s.mu.Unlock()
	})
}

// Resume drives the client side of §4.9: poll {tempURL}/health until
// reachable, then request the handoff. It does not install the result;
// call ApplyHandoff with the returned value once the caller is ready to
// become authoritative.
func Resume(ctx context.Context, client *httpclient.Client, tempURL string, selfID cluster.ProcessID, selfURL string) (cluster.CoordinatorHandoff, error) {
	for attempt := 0; attempt < ResumeMaxAttempts; attempt++ {
		if _, err := httpclient.Get[cluster.HealthStatus](ctx, client, tempURL+"/health"); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return cluster.CoordinatorHandoff{}, ctx.Err()
		case <-time.After(ResumePollInterval):
		}
		if attempt == ResumeMaxAttempts-1 {
			return cluster.CoordinatorHandoff{}, coreerr.NewTransport(0, fmt.Errorf("resumption: %s never became reachable", tempURL))
		}
	}

	req := cluster.ResumeRequest{OriginalCoordinatorID: selfID, OriginalCoordinatorURL: selfURL, Timestamp: time.Now()}
	return httpclient.PostJSON[cluster.ResumeRequest, cluster.CoordinatorHandoff](ctx, client, tempURL+"/coordinator/resume", req)
}

// BroadcastResumed notifies every worker in peers that selfID has
// resumed authority, per spec §4.9 step 4. Each worker is expected to
// verify via its own /health check before accepting (handled on the
// worker side); this just fans the notice out concurrently so one slow
// peer doesn't delay the rest.
func BroadcastResumed(ctx context.Context, client *httpclient.Client, peers []cluster.PeerNode, notice cluster.ResumedNotice, log logx.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		p := p
		g.Go(func() error {
			if err := httpclient.PostAck(gctx, client, p.URL+"/coordinator/resumed", notice); err != nil {
				log.Error("resumed notice failed", err, logx.F("process_id", p.ProcessID))
			}
			return nil
		})
	}
	return g.Wait()
}
