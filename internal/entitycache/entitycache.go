// Package entitycache is the worker-local store backing the `/cache/*`
// handlers (spec §6): an LRU-bounded cache of Guild/Channel/Member
// entities populated from gateway events on the worker's assigned
// shards.
//
// It is adapted from torua's internal/storage.Store: same ErrNotFound
// sentinel and Get/Put/Delete shape, generalized from a single
// string->[]byte KV into three typed, independently-bounded LRU
// caches (one per entity kind) backed by hashicorp/golang-lru, since an
// unbounded map risks unbounded growth on a long-lived gateway
// connection.
package entitycache

import (
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// ErrNotFound is returned when a requested entity isn't cached.
var ErrNotFound = errors.New("entitycache: not found")

// DefaultSize bounds each per-kind cache; a worker holding one busy
// shard rarely needs to remember more than a few thousand distinct
// guilds, channels, or members at once.
const DefaultSize = 4096

// Cache holds the three entity kinds a worker tracks locally.
type Cache struct {
	guilds   *lru.Cache[string, cluster.Guild]
	channels *lru.Cache[string, cluster.Channel]
	members  *lru.Cache[string, cluster.Member]
}

// New returns a Cache with each entity kind bounded to size entries.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	guilds, err := lru.New[string, cluster.Guild](size)
	if err != nil {
		return nil, err
	}
	channels, err := lru.New[string, cluster.Channel](size)
	if err != nil {
		return nil, err
	}
	members, err := lru.New[string, cluster.Member](size)
	if err != nil {
		return nil, err
	}
	return &Cache{guilds: guilds, channels: channels, members: members}, nil
}

// PutGuild stores or refreshes a guild entry.
func (c *Cache) PutGuild(g cluster.Guild) { c.guilds.Add(g.ID, g) }

// GetGuild returns the cached guild, or ErrNotFound.
func (c *Cache) GetGuild(id string) (cluster.Guild, error) {
	g, ok := c.guilds.Get(id)
	if !ok {
		return cluster.Guild{}, ErrNotFound
	}
	return g, nil
}

// PutChannel stores or refreshes a channel entry.
func (c *Cache) PutChannel(ch cluster.Channel) { c.channels.Add(ch.ID, ch) }

// GetChannel returns the cached channel, or ErrNotFound.
func (c *Cache) GetChannel(id string) (cluster.Channel, error) {
	ch, ok := c.channels.Get(id)
	if !ok {
		return cluster.Channel{}, ErrNotFound
	}
	return ch, nil
}

// memberKey composes the member cache key, since user IDs aren't unique
// across guilds.
func memberKey(guildID, userID string) string { return guildID + ":" + userID }

// PutMember stores or refreshes a member entry.
func (c *Cache) PutMember(m cluster.Member) { c.members.Add(memberKey(m.GuildID, m.UserID), m) }

// GetMember returns the cached member, or ErrNotFound.
func (c *Cache) GetMember(guildID, userID string) (cluster.Member, error) {
	m, ok := c.members.Get(memberKey(guildID, userID))
	if !ok {
		return cluster.Member{}, ErrNotFound
	}
	return m, nil
}

// RemoveGuild evicts a guild and everything scoped to it is left to
// expire naturally via LRU; Discord's GUILD_DELETE is rare enough that
// eager cascade eviction isn't worth the bookkeeping.
func (c *Cache) RemoveGuild(id string) { c.guilds.Remove(id) }

// Len returns the current entry count per kind.
func (c *Cache) Len() (guilds, channels, members int) {
	return c.guilds.Len(), c.channels.Len(), c.members.Len()
}
