// Package assigner implements ShardAssigner (spec §4.4): the pure
// function that partitions TotalShards across the current worker set,
// generalizing torua's ShardRegistry.RebalanceShards (which distributed
// shards round-robin across node IDs) into a deterministic, sorted
// round-robin that produces identical output for identical input so a
// coordinator restart doesn't unnecessarily reshuffle a stable cluster.
package assigner

import (
	"sort"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// Rebalance computes a fresh partition of [0, total) across workers,
// sorted by (JoinedAt, ProcessID) per spec §4.4 so join order is
// stable, distributing shards round-robin so counts differ by at most
// one. An empty workers slice parks every shard in Pending.
func Rebalance(total int, workers []cluster.PeerNode) cluster.ClusterAssignment {
	out := cluster.NewClusterAssignment(total)
	if len(workers) == 0 {
		return out
	}

	sorted := append([]cluster.PeerNode(nil), workers...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].JoinedAt.Equal(sorted[j].JoinedAt) {
			return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
		}
		return sorted[i].ProcessID < sorted[j].ProcessID
	})

	out.Pending = nil
	for i := 0; i < total; i++ {
		pid := sorted[i%len(sorted)].ProcessID
		out.Assignments[pid] = append(out.Assignments[pid], cluster.ShardID(i))
	}
	return out
}

// Diff compares an old and new assignment and returns, per worker, only
// the shard list that actually changed — so a caller only pushes an
// AssignmentPush to peers whose partition moved, per spec §4.4's
// rebalance-only-on-change requirement.
func Diff(oldA, newA cluster.ClusterAssignment) map[cluster.ProcessID][]cluster.ShardID {
	changed := make(map[cluster.ProcessID][]cluster.ShardID)
	for pid, shards := range newA.Assignments {
		if !equalShardSets(oldA.Assignments[pid], shards) {
			changed[pid] = shards
		}
	}
	for pid := range oldA.Assignments {
		if _, stillPresent := newA.Assignments[pid]; !stillPresent {
			changed[pid] = nil
		}
	}
	return changed
}

func equalShardSets(a, b []cluster.ShardID) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]cluster.ShardID(nil), a...)
	sb := append([]cluster.ShardID(nil), b...)
	sort.Slice(sa, func(i, j int) bool { return sa[i] < sa[j] })
	sort.Slice(sb, func(i, j int) bool { return sb[i] < sb[j] })
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
