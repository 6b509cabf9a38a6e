// Package registry implements PeerRegistry (spec §4.3): the coordinator's
// authoritative view of cluster membership, generalized from torua's
// ShardRegistry (which mapped shard->node) into a peer-keyed store that
// also tracks each peer's own shard assignment, role, and liveness state.
//
// All mutation happens under a single exclusive lock; reads take a
// shared lock and always return copies, never internal pointers, so
// callers can't race with a concurrent Upsert.
package registry

import (
	"sync"
	"time"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// Registry is the coordinator's concurrent-safe peer table.
type Registry struct {
	mu    sync.RWMutex
	peers map[cluster.ProcessID]cluster.PeerNode
	now   func() time.Time
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		peers: make(map[cluster.ProcessID]cluster.PeerNode),
		now:   time.Now,
	}
}

// Upsert inserts a new peer or overwrites an existing one by ProcessID,
// refreshing LastSeen to now.
func (r *Registry) Upsert(p cluster.PeerNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.LastSeen = r.now()
	r.peers[p.ProcessID] = p.Clone()
}

// Touch refreshes LastSeen and, if the peer was Suspect, restores it to
// Active — called on every accepted heartbeat.
func (r *Registry) Touch(id cluster.ProcessID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	p.LastSeen = r.now()
	if p.State == cluster.PeerSuspect {
		p.State = cluster.PeerActive
	}
	r.peers[id] = p
	return true
}

// SetState transitions peer id to state, e.g. when a HeartbeatMonitor
// probe fails or recovers.
func (r *Registry) SetState(id cluster.ProcessID, state cluster.PeerState) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	p.State = state
	r.peers[id] = p
	return true
}

// SetAssignedShards replaces peer id's shard list, called after a
// successful AssignmentPush.
func (r *Registry) SetAssignedShards(id cluster.ProcessID, shards []cluster.ShardID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return false
	}
	cp := make([]cluster.ShardID, len(shards))
	copy(cp, shards)
	p.AssignedShards = cp
	r.peers[id] = p
	return true
}

// Remove deletes peer id outright, used on explicit deregistration.
func (r *Registry) Remove(id cluster.ProcessID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

// Get returns a copy of peer id and whether it exists.
func (r *Registry) Get(id cluster.ProcessID) (cluster.PeerNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	if !ok {
		return cluster.PeerNode{}, false
	}
	return p.Clone(), true
}

// Snapshot returns copies of every peer, unordered.
func (r *Registry) Snapshot() []cluster.PeerNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.PeerNode, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p.Clone())
	}
	return out
}

// Workers returns copies of every peer currently acting as a worker
// (RoleWorker or RoleTemporaryCoordinator both carry shards and are
// valid AssignmentPush targets).
func (r *Registry) Workers() []cluster.PeerNode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.PeerNode, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Role == cluster.RoleWorker || p.Role == cluster.RoleTemporaryCoordinator {
			out = append(out, p.Clone())
		}
	}
	return out
}

// FindByShard returns the peer currently assigned shard id, if any.
func (r *Registry) FindByShard(id cluster.ShardID) (cluster.PeerNode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.peers {
		if p.HasShard(id) {
			return p.Clone(), true
		}
	}
	return cluster.PeerNode{}, false
}

// Len returns the number of tracked peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// PruneDead removes every peer in PeerDead state whose LastSeen is at
// least cluster.DeadPeerGrace ago, and returns their ProcessIDs. The
// grace is measured from LastSeen, not from when the peer was marked
// Dead. Called periodically by the coordinator's maintenance loop.
func (r *Registry) PruneDead() []cluster.ProcessID {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var pruned []cluster.ProcessID
	for id, p := range r.peers {
		if p.State == cluster.PeerDead && now.Sub(p.LastSeen) >= cluster.DeadPeerGrace {
			delete(r.peers, id)
			pruned = append(pruned, id)
		}
	}
	return pruned
}

// MarkStaleSuspect transitions to Suspect every Active peer whose
// LastSeen is older than staleAfter, and returns their ProcessIDs so the
// caller (HeartbeatMonitor) can schedule a direct health probe.
func (r *Registry) MarkStaleSuspect(staleAfter time.Duration) []cluster.ProcessID {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var suspected []cluster.ProcessID
	for id, p := range r.peers {
		if p.State == cluster.PeerActive && now.Sub(p.LastSeen) >= staleAfter {
			p.State = cluster.PeerSuspect
			r.peers[id] = p
			suspected = append(suspected, id)
		}
	}
	return suspected
}
