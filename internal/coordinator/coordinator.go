// Package coordinator implements CoordinatorService (spec §4.6) and
// ResumptionHandler (spec §4.9): the authoritative event loop that owns
// PeerRegistry, ClusterAssignment, SuccessionOrder, and Epoch, plus the
// HTTP control-plane surface from §6.
//
// Generalized from torua's cmd/coordinator server type and its
// RWMutex-guarded node list/handlers, but using a single goroutine
// draining a command channel instead of directly locking shared state —
// spec §5 calls out the event-loop-or-single-write-lock choice
// explicitly, and an event loop keeps "epoch bump is atomic with the
// state change that caused it" trivially true even across the
// succession/resumption paths torua never had to model.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardcoord/internal/assigner"
	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/coreerr"
	"github.com/dreamware/shardcoord/internal/heartbeat"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/registry"
	"github.com/dreamware/shardcoord/internal/succession"
)

// StaleAfter is how long a peer can go without a heartbeat before the
// maintenance loop marks it Suspect and schedules a direct probe.
const StaleAfter = 3 * heartbeat.Interval

// MaintenanceInterval is how often the event loop re-evaluates peer
// liveness and prunes dead peers.
const MaintenanceInterval = 5 * time.Second

// Service is the coordinator's authoritative state and the single
// goroutine serializing every mutation to it.
type Service struct {
	log    logx.Logger
	client *httpclient.Client
	reg    *registry.Registry
	prober *heartbeat.Prober

	selfID  cluster.ProcessID
	selfURL string

	cmdCh chan func()

	// The following fields are only ever touched from inside the event
	// loop (i.e. inside a function run via exec), so they need no mutex
	// of their own.
	epoch           cluster.Epoch
	totalShards     int
	assignment      cluster.ClusterAssignment
	successionOrder []cluster.SuccessionEntry

	// role supports embedding this Service inside a worker.Service
	// acting as Temporary Coordinator (spec §4.8); Active is false until
	// Start is called.
	mu     sync.Mutex
	active bool
}

// New returns a Service seeded with totalShards and ready to Start.
func New(selfID cluster.ProcessID, selfURL string, totalShards int, client *httpclient.Client, log logx.Logger) *Service {
	return &Service{
		log:         log,
		client:      client,
		reg:         registry.New(),
		prober:      heartbeat.NewProber(client, log),
		selfID:      selfID,
		selfURL:     selfURL,
		cmdCh:       make(chan func()),
		totalShards: totalShards,
		assignment:  cluster.NewClusterAssignment(totalShards),
	}
}

// Registry exposes the peer registry for components (distcache, HTTP
// handlers) that only need read access; Registry itself is already
// concurrency-safe.
func (s *Service) Registry() *registry.Registry { return s.reg }

// TotalShards returns the configured shard count without going through
// the event loop, since it never changes after Start.
func (s *Service) TotalShards() int { return s.totalShards }

// exec runs fn on the event-loop goroutine and blocks until it
// completes, giving callers (HTTP handlers) a synchronous API over the
// serialized state.
func (s *Service) exec(fn func()) {
	done := make(chan struct{})
	s.cmdCh <- func() { fn(); close(done) }
	<-done
}

// Start marks the service active and begins its event loop and
// maintenance loop; it returns once the event loop goroutine is
// running. Both loops stop when ctx is canceled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	go s.runEventLoop(ctx)
	go s.runMaintenanceLoop(ctx)
}

func (s *Service) runEventLoop(ctx context.Context) {
	for {
		select {
		case cmd := <-s.cmdCh:
			cmd()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) runMaintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runMaintenance(ctx)
		}
	}
}

// runMaintenance marks stale peers Suspect, confirms suspicion with a
// direct /health probe, marks confirmed-unreachable peers Dead, prunes
// peers long past the grace period, and rebalances if membership
// changed as a result.
func (s *Service) runMaintenance(ctx context.Context) {
	suspects := s.reg.MarkStaleSuspect(StaleAfter)
	for _, id := range suspects {
		peer, ok := s.reg.Get(id)
		if !ok {
			continue
		}
		if s.prober.Probe(ctx, peer.URL) {
			s.reg.Touch(id)
			continue
		}
		s.reg.SetState(id, cluster.PeerDead)
		s.log.Warn("peer marked dead", logx.F("process_id", id))
	}

	pruned := s.reg.PruneDead()
	if len(pruned) > 0 {
		s.exec(func() { s.rebalanceLocked(ctx) })
	}
}

// RegisterWorker handles POST /worker/register (spec §6): idempotent on
// ProcessID — a duplicate registration refreshes URL and returns the
// existing assignment unchanged unless a rebalance is actually needed.
func (s *Service) RegisterWorker(ctx context.Context, req cluster.RegisterRequest) (cluster.RegisterResponse, error) {
	var resp cluster.RegisterResponse
	var rebalanceErr error

	s.exec(func() {
		existing, existed := s.reg.Get(req.ProcessID)
		joinedAt := time.Now()
		if existed {
			joinedAt = existing.JoinedAt
		}
		s.reg.Upsert(cluster.PeerNode{
			ProcessID: req.ProcessID,
			URL:       req.URL,
			Role:      cluster.RoleWorker,
			State:     cluster.PeerActive,
			JoinedAt:  joinedAt,
		})

		rebalanceErr = s.rebalanceLocked(ctx)

		assigned := s.assignment.Assignments[req.ProcessID]
		rank, _ := succession.RankOf(s.successionOrder, req.ProcessID)
		resp = cluster.RegisterResponse{
			TotalShards:    s.totalShards,
			AssignedShards: assigned,
			Epoch:          s.epoch,
			Peers:          s.peerSummariesLocked(),
			SuccessionRank: rank,
		}
	})
	return resp, rebalanceErr
}

// Heartbeat handles POST /worker/heartbeat: refreshes liveness and
// returns a refreshed assignment if the caller's epoch is stale.
func (s *Service) Heartbeat(req cluster.HeartbeatRequest) (cluster.HeartbeatResponse, error) {
	if !s.reg.Touch(req.ProcessID) {
		return cluster.HeartbeatResponse{}, coreerr.NewInvalidState(fmt.Errorf("unknown process_id %s", req.ProcessID))
	}
	var resp cluster.HeartbeatResponse
	s.exec(func() {
		resp = cluster.HeartbeatResponse{Epoch: s.epoch, AssignedShards: s.assignment.Assignments[req.ProcessID]}
	})
	if req.Epoch >= resp.Epoch {
		return cluster.HeartbeatResponse{}, nil
	}
	return resp, nil
}

// Deregister handles POST /worker/deregister.
func (s *Service) Deregister(ctx context.Context, req cluster.DeregisterRequest) error {
	var err error
	s.exec(func() {
		s.reg.Remove(req.ProcessID)
		err = s.rebalanceLocked(ctx)
	})
	return err
}

// ClusterState handles GET /cluster/state.
func (s *Service) ClusterState() cluster.ClusterStateResponse {
	var out cluster.ClusterStateResponse
	s.exec(func() {
		out = cluster.ClusterStateResponse{
			Assignment:      s.assignment.Clone(),
			SuccessionOrder: append([]cluster.SuccessionEntry(nil), s.successionOrder...),
			Peers:           s.reg.Snapshot(),
			Epoch:           s.epoch,
		}
	})
	return out
}

// Health handles GET /health.
func (s *Service) Health() cluster.HealthStatus {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	var out cluster.HealthStatus
	s.exec(func() { out = s.snapshotHealth(active) })
	return out
}

// snapshotHealth must be called from within exec. Status is degraded
// whenever the service isn't active, any peer is Suspect, or any shard
// is sitting in Pending instead of routed to a worker (spec §7).
func (s *Service) snapshotHealth(active bool) cluster.HealthStatus {
	status := "healthy"
	if !active || len(s.assignment.Pending) > 0 {
		status = "degraded"
	}
	for _, p := range s.reg.Snapshot() {
		if p.State == cluster.PeerSuspect {
			status = "degraded"
			break
		}
	}
	return cluster.HealthStatus{Status: status, Role: cluster.RoleCoordinator, Epoch: s.epoch}
}

// rebalanceLocked must be called from within exec. It recomputes the
// assignment and succession order from the current registry, bumps the
// epoch only if the assignment actually changed, and pushes the diff to
// every affected worker concurrently. A peer whose push fails (even
// after pushAssignments' internal retry) is marked Suspect and its
// shards are returned to Pending rather than left attributed to a peer
// that never confirmed them, per spec §4.6.
func (s *Service) rebalanceLocked(ctx context.Context) error {
	next := assigner.Rebalance(s.totalShards, s.reg.Workers())
	diff := assigner.Diff(s.assignment, next)
	s.assignment = next
	s.successionOrder = succession.ComputeOrder(s.reg.Snapshot(), s.selfID)

	if len(diff) == 0 {
		return nil
	}
	s.epoch++
	failed := s.pushAssignments(ctx, diff)
	for pid, shards := range diff {
		if _, ok := failed[pid]; ok {
			continue
		}
		s.reg.SetAssignedShards(pid, shards)
	}
	for pid := range failed {
		s.reg.SetState(pid, cluster.PeerSuspect)
		s.assignment.Assignments[pid] = nil
		s.assignment.Pending = append(s.assignment.Pending, diff[pid]...)
		s.log.Warn("assignment push failed, shards returned to pending", logx.F("process_id", pid))
	}
	return nil
}

// pushAssignments fans out AssignmentPush to every peer in diff
// concurrently via errgroup, so one slow or dead peer doesn't delay the
// others — replacing torua's handleBroadcast sequential for loop, which
// spec §9's concurrency model explicitly rules out for peer broadcasts.
// Each push is retried once; it returns the set of peers still
// unreachable after that retry.
func (s *Service) pushAssignments(ctx context.Context, diff map[cluster.ProcessID][]cluster.ShardID) map[cluster.ProcessID]struct{} {
	var mu sync.Mutex
	failed := make(map[cluster.ProcessID]struct{})

	g, gctx := errgroup.WithContext(ctx)
	for pid, shards := range diff {
		pid, shards := pid, shards
		peer, ok := s.reg.Get(pid)
		if !ok {
			continue
		}
		g.Go(func() error {
			push := cluster.AssignmentPush{AssignedShards: shards, TotalShards: s.totalShards, Epoch: s.epoch}
			if err := pushAssignmentOnce(gctx, s.client, peer.URL+"/coordinator/assignment", push); err != nil {
				s.log.Error("assignment push failed", err, logx.F("process_id", pid))
				mu.Lock()
				failed[pid] = struct{}{}
				mu.Unlock()
			}
			return nil // a single peer's transport failure must not abort the others
		})
	}
	_ = g.Wait()
	return failed
}

// pushAssignmentOnce posts push and retries exactly once on transport
// failure — the client itself makes no retry decisions, per spec §4.2.
func pushAssignmentOnce(ctx context.Context, client *httpclient.Client, url string, push cluster.AssignmentPush) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 1), ctx)
	return backoff.Retry(func() error {
		return httpclient.PostAck(ctx, client, url, push)
	}, policy)
}

func (s *Service) peerSummariesLocked() []cluster.PeerSummary {
	peers := s.reg.Snapshot()
	out := make([]cluster.PeerSummary, len(peers))
	for i, p := range peers {
		out[i] = cluster.PeerSummary{ProcessID: p.ProcessID, URL: p.URL, AssignedShards: p.AssignedShards}
	}
	return out
}
