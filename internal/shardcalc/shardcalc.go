// Package shardcalc implements ShardCalculator (spec §4.1): the single
// pure function mapping a Discord guild ID to its owning shard.
package shardcalc

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// ErrInvalidArgument is returned when total <= 0.
var ErrInvalidArgument = errors.New("shardcalc: total shards must be positive")

// ShardID computes (guild_id >> 22) mod total, per Discord's own
// sharding formula. guildID is parsed as an unsigned 64-bit decimal
// snowflake; if parsing fails, a stable FNV-1a hash of the raw string is
// used instead so callers passing non-guild keys still get a
// deterministic, evenly distributed shard — callers SHOULD pass guild
// snowflakes (spec §4.1). total must be positive.
func ShardID(guildID string, total int) (cluster.ShardID, error) {
	if total <= 0 {
		return 0, fmt.Errorf("shardcalc: invalid total shards %d: %w", total, ErrInvalidArgument)
	}

	if v, err := strconv.ParseUint(guildID, 10, 64); err == nil {
		return cluster.ShardID((v >> 22) % uint64(total)), nil
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(guildID))
	return cluster.ShardID(h.Sum64() % uint64(total)), nil
}
