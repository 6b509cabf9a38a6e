package cluster

// Guild, Channel, and Member are the gateway entities a worker caches
// locally from the Discord events arriving on its assigned shards, and
// that DistributedCache (§4.10) fetches cross-process by routing through
// the owning worker. Fields are the minimal set the cache's read path
// needs; a real gateway client would carry the full Discord payload.
type Guild struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	ShardID     ShardID `json:"shard_id"`
}

type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Type    int    `json:"type"`
}

type Member struct {
	UserID   string `json:"user_id"`
	GuildID  string `json:"guild_id"`
	Nickname string `json:"nickname,omitempty"`
}
