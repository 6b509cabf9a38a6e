// Package worker implements WorkerService (spec §4.7): registration,
// heartbeating, assignment diff/apply over gateway sessions, the
// `/cache/*` read surface, resumption reconciliation, and the
// succession evaluation every worker runs independently while the
// coordinator is unreachable.
//
// Generalized from torua's cmd/node Node type (a `map[int]*shard.Shard`
// behind a `sync.RWMutex`, populated lazily on first client request)
// into assignment-driven shard lifecycle: here a shard's gateway
// session opens and closes in direct response to an AssignmentPush,
// per §4.7, not on-demand.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/coordinator"
	"github.com/dreamware/shardcoord/internal/entitycache"
	"github.com/dreamware/shardcoord/internal/gatewayclient"
	"github.com/dreamware/shardcoord/internal/heartbeat"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/shard"
	"github.com/dreamware/shardcoord/internal/succession"
)

// Service is one worker process: its local shard set, entity cache, and
// the heartbeat/succession machinery that watches the coordinator.
type Service struct {
	selfID  cluster.ProcessID
	selfURL string

	client *httpclient.Client
	log    logx.Logger
	cache  *entitycache.Cache
	dialer *gatewayclient.Dialer

	mu     sync.Mutex
	shards map[cluster.ShardID]*shard.Shard

	coordinatorURL string
	localEpoch     cluster.Epoch
	totalShards    int
	lastPeers      []cluster.PeerNode

	sender    *heartbeat.Sender
	evaluator *succession.Evaluator

	// promoted, when non-nil, is this worker acting as Temporary
	// Coordinator (spec §4.8 step 3): the embedded coordinator.Service
	// runs its own event loop and HTTP surface alongside this worker's.
	promoted *coordinator.Service
}

// New returns a Service that will register against coordinatorURL.
func New(selfID cluster.ProcessID, selfURL, coordinatorURL string, client *httpclient.Client, dialer *gatewayclient.Dialer, cache *entitycache.Cache, log logx.Logger) *Service {
	s := &Service{
		selfID:         selfID,
		selfURL:        selfURL,
		client:         client,
		log:            log,
		cache:          cache,
		dialer:         dialer,
		shards:         make(map[cluster.ShardID]*shard.Shard),
		coordinatorURL: coordinatorURL,
		evaluator:      succession.NewEvaluator(),
	}
	s.sender = heartbeat.NewSender(client, log, selfID, s.CoordinatorURL, func() cluster.Epoch { return s.Epoch() })
	s.sender.OnStale(s.applyAssignmentFromHeartbeat)
	s.sender.OnMissed(s.onHeartbeatMissed)
	s.sender.OnRecover(s.onHeartbeatRecovered)
	return s
}

// CoordinatorURL returns the URL this worker currently believes is
// authoritative; it changes across succession and resumption.
func (s *Service) CoordinatorURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coordinatorURL
}

// Cache returns this worker's entity cache, letting tests seed it
// directly rather than faking a gateway dispatch.
func (s *Service) Cache() *entitycache.Cache { return s.cache }

// Epoch returns the worker's last-known epoch.
func (s *Service) Epoch() cluster.Epoch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localEpoch
}

// Register performs the initial POST /worker/register against the
// configured coordinator and applies the returned assignment.
func (s *Service) Register(ctx context.Context) error {
	req := cluster.RegisterRequest{ProcessID: s.selfID, URL: s.selfURL}
	resp, err := httpclient.PostJSON[cluster.RegisterRequest, cluster.RegisterResponse](ctx, s.client, s.CoordinatorURL()+"/worker/register", req)
	if err != nil {
		return fmt.Errorf("worker: register: %w", err)
	}

	s.mu.Lock()
	s.totalShards = resp.TotalShards
	s.localEpoch = resp.Epoch
	s.lastPeers = peersFromSummaries(resp.Peers)
	s.mu.Unlock()

	return s.ApplyAssignment(ctx, cluster.AssignmentPush{
		AssignedShards: resp.AssignedShards,
		TotalShards:    resp.TotalShards,
		Epoch:          resp.Epoch,
	})
}

// Start begins the worker's heartbeat loop.
func (s *Service) Start(ctx context.Context) {
	go s.sender.Start(ctx)
}

// ApplyAssignment handles POST /coordinator/assignment (spec §4.7): it
// diffs push.AssignedShards against the currently open shard set and
// records the new epoch, then closes (with acknowledgement) the sessions
// of removed shards and starts gateway sessions for additions before
// returning.
func (s *Service) ApplyAssignment(ctx context.Context, push cluster.AssignmentPush) error {
	if push.Epoch < s.Epoch() {
		return fmt.Errorf("worker: stale assignment epoch %d < %d", push.Epoch, s.Epoch())
	}

	want := make(map[cluster.ShardID]bool, len(push.AssignedShards))
	for _, id := range push.AssignedShards {
		want[id] = true
	}

	s.mu.Lock()
	toClose := make([]*shard.Shard, 0)
	for id, sh := range s.shards {
		if !want[id] {
			toClose = append(toClose, sh)
			delete(s.shards, id)
		}
	}
	toStart := make([]cluster.ShardID, 0)
	for id := range want {
		if _, ok := s.shards[id]; !ok {
			toStart = append(toStart, id)
		}
	}
	s.totalShards = push.TotalShards
	s.localEpoch = push.Epoch
	s.mu.Unlock()

	for _, sh := range toClose {
		if err := sh.Close(); err != nil {
			s.log.Warn("error closing shard session", logx.F("shard_id", sh.ID), logx.F("error", err.Error()))
		}
	}

	for _, id := range toStart {
		sh := shard.New(id, push.TotalShards, s.dialer, s.cache, s.log)
		if err := sh.Start(ctx); err != nil {
			s.log.Error("failed to start shard session", err, logx.F("shard_id", id))
			continue
		}
		s.mu.Lock()
		s.shards[id] = sh
		s.mu.Unlock()
	}
	return nil
}

func (s *Service) applyAssignmentFromHeartbeat(resp cluster.HeartbeatResponse) {
	_ = s.ApplyAssignment(context.Background(), cluster.AssignmentPush{
		AssignedShards: resp.AssignedShards,
		TotalShards:    s.totalShardsLocked(),
		Epoch:          resp.Epoch,
	})
}

func (s *Service) totalShardsLocked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalShards
}

// Router returns this worker's HTTP surface (spec §6): assignment push,
// cache reads, resumed notices, and health — plus, while promoted, the
// embedded coordinator's own router.
func (s *Service) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/coordinator/assignment", s.handleAssignment).Methods("POST")
	r.HandleFunc("/cache/guild/{id}", s.handleGetGuild).Methods("GET")
	r.HandleFunc("/cache/channel/{id}", s.handleGetChannel).Methods("GET")
	r.HandleFunc("/cache/member/{guild}/{user}", s.handleGetMember).Methods("GET")
	r.HandleFunc("/coordinator/resumed", s.handleResumed).Methods("POST")
	r.HandleFunc("/cluster/succession", s.handleSuccessionBroadcast).Methods("POST")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")

	delegate := func(w http.ResponseWriter, req *http.Request) {
		s.mu.Lock()
		promoted := s.promoted
		s.mu.Unlock()
		if promoted == nil {
			http.NotFound(w, req)
			return
		}
		promoted.Router().ServeHTTP(w, req)
	}
	r.PathPrefix("/worker/").HandlerFunc(delegate)
	r.PathPrefix("/cluster/state").HandlerFunc(delegate)
	return r
}

// Shutdown stops the heartbeat sender and closes every open gateway
// shard session (spec §5's SIGTERM sequence: deregister, then close
// gateway sessions, then exit within the shutdown deadline).
func (s *Service) Shutdown() {
	s.sender.Stop()

	s.mu.Lock()
	shards := make([]*shard.Shard, 0, len(s.shards))
	for id, sh := range s.shards {
		shards = append(shards, sh)
		delete(s.shards, id)
	}
	s.mu.Unlock()

	for _, sh := range shards {
		if err := sh.Close(); err != nil {
			s.log.Warn("error closing shard session during shutdown", logx.F("shard_id", sh.ID), logx.F("error", err.Error()))
		}
	}
}

func peersFromSummaries(in []cluster.PeerSummary) []cluster.PeerNode {
	out := make([]cluster.PeerNode, len(in))
	for i, p := range in {
		out[i] = cluster.PeerNode{ProcessID: p.ProcessID, URL: p.URL, AssignedShards: p.AssignedShards, Role: cluster.RoleWorker}
	}
	return out
}
