// Package distcache implements DistributedCache (spec §4.10): the
// read-only, best-effort lookup path that routes a guild/channel/member
// query to whichever worker owns the relevant shard and fetches it over
// HTTP.
//
// Grounded on torua's ShardRegistry-driven routing concept generalized
// with the new C1/C3 primitives: shardcalc computes the owning shard,
// registry.FindByShard locates the worker, httpclient issues the GET.
package distcache

import (
	"context"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/httpclient"
	"github.com/dreamware/shardcoord/internal/logx"
	"github.com/dreamware/shardcoord/internal/registry"
	"github.com/dreamware/shardcoord/internal/shardcalc"
)

// Cache is the coordinator-or-worker-side handle for cross-shard entity
// lookups. Any process holding a PeerRegistry snapshot can use one.
type Cache struct {
	reg    *registry.Registry
	client *httpclient.Client
	log    logx.Logger
	total  func() int
}

// New returns a Cache routing through reg's current peer snapshot, with
// total shards read lazily via totalShards (it can change across a
// coordinator handoff).
func New(reg *registry.Registry, client *httpclient.Client, log logx.Logger, totalShards func() int) *Cache {
	return &Cache{reg: reg, client: client, log: log, total: totalShards}
}

// GetGuild returns the guild owning guildID, or nil if unreachable.
// Never returns an error: transport and routing failures are logged and
// folded into a nil result, per the cache's best-effort-read contract.
func (c *Cache) GetGuild(ctx context.Context, guildID string) *cluster.Guild {
	url, ok := c.route(guildID)
	if !ok {
		return nil
	}
	g, err := httpclient.Get[cluster.Guild](ctx, c.client, url+"/cache/guild/"+guildID)
	if err != nil {
		c.log.Error("distcache: get_guild transport failure", err, logx.F("guild_id", guildID))
		return nil
	}
	return &g
}

// GetChannel returns channelID's channel, routed by guildID's shard
// since channels have no independent sharding key.
func (c *Cache) GetChannel(ctx context.Context, channelID, guildID string) *cluster.Channel {
	url, ok := c.route(guildID)
	if !ok {
		return nil
	}
	ch, err := httpclient.Get[cluster.Channel](ctx, c.client, url+"/cache/channel/"+channelID)
	if err != nil {
		c.log.Error("distcache: get_channel transport failure", err, logx.F("channel_id", channelID))
		return nil
	}
	return &ch
}

// GetMember returns userID's member record within guildID.
func (c *Cache) GetMember(ctx context.Context, userID, guildID string) *cluster.Member {
	url, ok := c.route(guildID)
	if !ok {
		return nil
	}
	m, err := httpclient.Get[cluster.Member](ctx, c.client, url+"/cache/member/"+guildID+"/"+userID)
	if err != nil {
		c.log.Error("distcache: get_member transport failure", err, logx.F("guild_id", guildID), logx.F("user_id", userID))
		return nil
	}
	return &m
}

// route computes guildID's shard and resolves it to an owning worker's
// URL, logging a Warning (not an Error, per spec §4.10) when no worker
// currently owns the shard.
func (c *Cache) route(guildID string) (string, bool) {
	id, err := shardcalc.ShardID(guildID, c.total())
	if err != nil {
		c.log.Error("distcache: shard computation failed", err, logx.F("guild_id", guildID))
		return "", false
	}
	peer, ok := c.reg.FindByShard(id)
	if !ok {
		c.log.Warn("distcache: no worker for shard", logx.F("shard_id", id), logx.F("guild_id", guildID))
		return "", false
	}
	return peer.URL, true
}
