// Package succession implements SuccessionEngine (spec §4.8): the
// deterministic ordering used to pick the next coordinator, and the
// per-worker promotion timer that evaluates it when the coordinator
// goes dark.
//
// There is no direct torua analogue — the teacher repo has no failover
// story at all — so the concurrency shape here is grounded on torua's
// HealthMonitor (internal/coordinator/health_monitor.go): a
// context-cancellable background goroutine driven by a ticker, reporting
// through a callback rather than a channel so the caller (WorkerService)
// controls how promotion is acted on.
package succession

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// ComputeOrder returns the dense-ranked SuccessionOrder for peers,
// excluding excludeID (the active or presumed coordinator), sorted by
// (JoinedAt ascending, ProcessID ascending) per spec §4.2.
func ComputeOrder(peers []cluster.PeerNode, excludeID cluster.ProcessID) []cluster.SuccessionEntry {
	candidates := make([]cluster.PeerNode, 0, len(peers))
	for _, p := range peers {
		if p.ProcessID == excludeID {
			continue
		}
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].JoinedAt.Equal(candidates[j].JoinedAt) {
			return candidates[i].JoinedAt.Before(candidates[j].JoinedAt)
		}
		return candidates[i].ProcessID < candidates[j].ProcessID
	})
	out := make([]cluster.SuccessionEntry, len(candidates))
	for i, p := range candidates {
		out[i] = cluster.SuccessionEntry{ProcessID: p.ProcessID, URL: p.URL, Rank: i}
	}
	return out
}

// RankOf returns self's rank within order, and false if self is not
// present (e.g. it is itself the excluded coordinator).
func RankOf(order []cluster.SuccessionEntry, self cluster.ProcessID) (int, bool) {
	for _, e := range order {
		if e.ProcessID == self {
			return e.Rank, true
		}
	}
	return 0, false
}

// PromotionDelay is succession_timeout = 10s x rank (spec §4.8): rank 0
// promotes immediately, every lower-ranked candidate waits proportionally
// longer so a higher-priority peer gets first chance.
func PromotionDelay(rank int) time.Duration {
	return time.Duration(rank) * 10 * time.Second
}

// Wins reports whether a promotion broadcast at (epoch, id) should
// preempt one already seen at (currentEpoch, currentID), per the
// split-brain tie-break in spec §4.8: higher epoch wins outright; equal
// epoch is broken by lower process_id.
func Wins(epoch cluster.Epoch, id cluster.ProcessID, currentEpoch cluster.Epoch, currentID cluster.ProcessID) bool {
	if epoch != currentEpoch {
		return epoch > currentEpoch
	}
	return id < currentID
}

// Evaluator runs a single worker's promotion timer: once started, it
// fires OnPromote after PromotionDelay(rank) unless Cancel is called
// first (because a higher-priority peer's succession broadcast arrived).
type Evaluator struct {
	mu        sync.Mutex
	cancel    context.CancelFunc
	onPromote func()
}

// NewEvaluator returns an idle Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Start arms the promotion timer for rank. Calling Start again while one
// is already pending cancels the previous timer first, matching the
// spec's "recomputes... identifies its own rank" re-evaluation loop.
func (e *Evaluator) Start(ctx context.Context, rank int, onPromote func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	if rank == 0 {
		onPromote()
		e.cancel = nil
		return
	}

	timerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	delay := PromotionDelay(rank)
	go func() {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
			onPromote()
		case <-timerCtx.Done():
		}
	}()
}

// Cancel stops any pending promotion timer, called when a valid
// succession broadcast or coordinator heartbeat is observed.
func (e *Evaluator) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
