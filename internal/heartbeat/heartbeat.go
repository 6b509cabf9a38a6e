// Package heartbeat implements HeartbeatMonitor (spec §4.5): the
// coordinator-side liveness prober and the worker-side heartbeat sender
// it pairs with. The coordinator half is adapted directly from torua's
// HealthMonitor (internal/coordinator/health_monitor.go) — same
// ticker-driven, context-cancellable, callback-reporting shape — but
// torua polled GET /health on a fixed node list; this version reacts to
// missed heartbeat posts plus a confirming /health probe, per §4.8's
// "missed three heartbeat replies AND /health returns error" trigger.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
)

// Interval is the default worker heartbeat period (spec §5, 15s).
const Interval = 15 * time.Second

// CoordinatorPollInterval is the default coordinator /health poll period
// (spec §5, 5s). Nothing in this package schedules on it: the worker
// probes coordinator /health from its missed-heartbeat callback instead.
const CoordinatorPollInterval = 5 * time.Second

// MissedThreshold is the number of consecutive missed heartbeat replies
// (or probe failures) before a peer is considered dead (spec §4.8: 3).
const MissedThreshold = 3

// Sender periodically POSTs a HeartbeatRequest to the coordinator and
// reports failures up so the caller can drive succession evaluation.
type Sender struct {
	client    *httpclient.Client
	log       logx.Logger
	selfID    cluster.ProcessID
	targetURL func() string
	epoch     func() cluster.Epoch

	onStale   func(cluster.HeartbeatResponse)
	onMissed  func(consecutive int)
	onRecover func()

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSender returns a Sender that heartbeats as selfID against whatever
// URL targetURL returns (read lazily, since the coordinator URL changes
// across failover) carrying the epoch currentEpoch returns.
func NewSender(client *httpclient.Client, log logx.Logger, selfID cluster.ProcessID, targetURL func() string, currentEpoch func() cluster.Epoch) *Sender {
	return &Sender{
		client:    client,
		log:       log,
		selfID:    selfID,
		targetURL: targetURL,
		epoch:     currentEpoch,
	}
}

// OnStale registers the callback invoked when the coordinator reports a
// newer assignment than the worker's local epoch.
func (s *Sender) OnStale(fn func(cluster.HeartbeatResponse)) { s.onStale = fn }

// OnMissed registers the callback invoked on each consecutive heartbeat
// failure, with the running miss count.
func (s *Sender) OnMissed(fn func(consecutive int)) { s.onMissed = fn }

// OnRecover registers the callback invoked when a heartbeat succeeds
// after at least one prior miss.
func (s *Sender) OnRecover(fn func()) { s.onRecover = fn }

// sendHeartbeatOnce posts req and retries exactly once on transport
// failure, since a single dropped heartbeat is worth a second try but the
// client itself makes no retry decisions on the caller's behalf.
func sendHeartbeatOnce(ctx context.Context, client *httpclient.Client, url string, req cluster.HeartbeatRequest) (cluster.HeartbeatResponse, error) {
	var resp cluster.HeartbeatResponse
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 1), ctx)
	err := backoff.Retry(func() error {
		r, err := httpclient.PostJSON[cluster.HeartbeatRequest, cluster.HeartbeatResponse](ctx, client, url, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, policy)
	return resp, err
}

// Start runs the send loop until ctx is canceled or Stop is called.
func (s *Sender) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	ticker := time.NewTicker(Interval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := cluster.HeartbeatRequest{ProcessID: s.selfID, Epoch: s.epoch()}
			resp, err := sendHeartbeatOnce(ctx, s.client, s.targetURL()+"/worker/heartbeat", req)
			if err != nil {
				missed++
				s.log.Warn("heartbeat failed", logx.F("process_id", s.selfID), logx.F("consecutive_misses", missed), logx.F("error", err.Error()))
				if s.onMissed != nil {
					s.onMissed(missed)
				}
				continue
			}
			if missed > 0 && s.onRecover != nil {
				s.onRecover()
			}
			missed = 0
			if resp.Epoch > s.epoch() && s.onStale != nil {
				s.onStale(resp)
			}
		}
	}
}

// Stop cancels the send loop.
func (s *Sender) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

// Prober is the coordinator-side confirmation check: when a worker's
// registry entry goes stale (no heartbeat received recently), the
// coordinator probes GET /health directly before declaring it Dead,
// so a single dropped heartbeat POST doesn't evict a live peer.
type Prober struct {
	client *httpclient.Client
	log    logx.Logger
}

// NewProber returns a Prober using client for /health GETs.
func NewProber(client *httpclient.Client, log logx.Logger) *Prober {
	return &Prober{client: client, log: log}
}

// Probe issues GET {url}/health and reports whether the peer answered.
func (p *Prober) Probe(ctx context.Context, url string) bool {
	_, err := httpclient.Get[cluster.HealthStatus](ctx, p.client, url+"/health")
	if err != nil {
		p.log.Warn("health probe failed", logx.F("url", url), logx.F("error", err.Error()))
		return false
	}
	return true
}
