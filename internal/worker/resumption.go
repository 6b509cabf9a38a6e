package worker

import (
	"context"
	"fmt"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
)

// ReconcileResumed handles POST /coordinator/resumed (spec §4.9 step
//4-5): before accepting the notice, it independently verifies the
// claimed resumed coordinator by calling its /health, to prevent a
// malicious or stale resume from hijacking the cluster. If this worker
// was itself the Temporary Coordinator, it demotes back to plain
// Worker.
func (s *Service) ReconcileResumed(ctx context.Context, notice cluster.ResumedNotice) error {
	if _, err := httpclient.Get[cluster.HealthStatus](ctx, s.client, notice.ResumedCoordinatorURL+"/health"); err != nil {
		return fmt.Errorf("worker: could not verify resumed coordinator %s: %w", notice.ResumedCoordinatorURL, err)
	}

	s.mu.Lock()
	s.coordinatorURL = notice.ResumedCoordinatorURL
	wasPromoted := s.promoted != nil
	s.promoted = nil
	s.mu.Unlock()

	if wasPromoted {
		s.log.Info("demoted back to worker on resumed coordinator notice",
			logx.F("process_id", s.selfID), logx.F("resumed_coordinator_id", notice.ResumedCoordinatorID))
	}
	return nil
}
