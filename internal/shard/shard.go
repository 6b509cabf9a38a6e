// Package shard implements the worker's per-shard gateway-session handle
// (spec §4.7): the lifecycle around one internal/gatewayclient.Session,
// from the moment a shard is assigned until its connection is closed and
// acknowledged.
//
// Rewritten from torua's key-value Shard (internal/shard/shard.go),
// which wrapped a storage.Store behind a state machine of
// Active/Migrating/Deleted. The state machine shape survives —
// immutable ID, mutex-guarded state, atomic stats — but the states and
// the thing being guarded are now a gateway connection, not a KV
// partition: Connecting while the dial is in flight, Active once events
// are flowing, Closing while a removal's close handshake is pending, and
// Closed once the coordinator is free to reassign the shard elsewhere.
package shard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/shardcoord/internal/cluster"
	"github.com/dreamware/shardcoord/internal/entitycache"
	"github.com/dreamware/shardcoord/internal/gatewayclient"
	"github.com/dreamware/shardcoord/internal/logx"
)

func decodeInto(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("shard: empty payload")
	}
	return json.Unmarshal(raw, v)
}

// State is the lifecycle stage of a shard's gateway session.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// CloseGracePeriod bounds how long Close waits for the gateway
// connection to acknowledge before giving up (spec §4.7's "waits for
// acknowledgement").
const CloseGracePeriod = 5 * time.Second

// CloseCodeReassigned is the 4000-series close code sent when a shard
// is reassigned away from this worker during a rebalance.
const CloseCodeReassigned = 4001

// Stats tracks per-shard event counters, updated without holding the
// shard's state mutex so a busy gateway connection never contends with
// a concurrent status query.
type Stats struct {
	EventsApplied uint64
	EventsDropped uint64
}

// Shard is one assigned Discord shard and the gateway session serving
// it on this worker.
type Shard struct {
	ID          cluster.ShardID
	TotalShards int

	cache  *entitycache.Cache
	log    logx.Logger
	dialer *gatewayclient.Dialer

	mu      sync.Mutex
	state   State
	session *gatewayclient.Session
	cancel  context.CancelFunc

	stats Stats
}

// New returns a shard in StateConnecting; callers must call Start to
// open its gateway session.
func New(id cluster.ShardID, total int, dialer *gatewayclient.Dialer, cache *entitycache.Cache, log logx.Logger) *Shard {
	return &Shard{
		ID:          id,
		TotalShards: total,
		cache:       cache,
		dialer:      dialer,
		log:         log,
		state:       StateConnecting,
	}
}

// State returns the shard's current lifecycle stage.
func (s *Shard) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start dials the gateway session for this shard and begins applying
// dispatched events to the entity cache in a background goroutine. It
// returns once the dial succeeds; event application continues until
// Close is called or the session drops.
func (s *Shard) Start(ctx context.Context) error {
	sessCtx, cancel := context.WithCancel(ctx)

	session, err := s.dialer.Dial(sessCtx, gatewayclient.Identify{ShardID: s.ID, TotalShards: s.TotalShards})
	if err != nil {
		cancel()
		return fmt.Errorf("shard %d: start: %w", s.ID, err)
	}

	s.mu.Lock()
	s.session = session
	s.cancel = cancel
	s.state = StateActive
	s.mu.Unlock()

	go s.applyLoop(session)
	return nil
}

func (s *Shard) applyLoop(session *gatewayclient.Session) {
	for evt := range session.Dispatches() {
		applied, err := s.apply(evt)
		if err != nil {
			atomic.AddUint64(&s.stats.EventsDropped, 1)
			s.log.Warn("dropped gateway event", logx.F("shard_id", s.ID), logx.F("type", evt.Type), logx.F("error", err.Error()))
			continue
		}
		if applied {
			atomic.AddUint64(&s.stats.EventsApplied, 1)
		}
	}
}

// apply decodes evt into the appropriate entity and upserts it into the
// cache, reporting whether the event was applied. Event types this
// worker doesn't model are ignored (neither applied nor an error), since
// Discord's gateway emits many event kinds a cache-only consumer has no
// use for.
func (s *Shard) apply(evt gatewayclient.Dispatch) (bool, error) {
	switch evt.Type {
	case "GUILD_CREATE", "GUILD_UPDATE":
		var g cluster.Guild
		if err := decodeInto(evt.Payload, &g); err != nil {
			return false, err
		}
		g.ShardID = s.ID
		s.cache.PutGuild(g)
	case "CHANNEL_CREATE", "CHANNEL_UPDATE":
		var ch cluster.Channel
		if err := decodeInto(evt.Payload, &ch); err != nil {
			return false, err
		}
		s.cache.PutChannel(ch)
	case "GUILD_MEMBER_ADD", "GUILD_MEMBER_UPDATE":
		var m cluster.Member
		if err := decodeInto(evt.Payload, &m); err != nil {
			return false, err
		}
		s.cache.PutMember(m)
	case "GUILD_DELETE":
		var g cluster.Guild
		if err := decodeInto(evt.Payload, &g); err != nil {
			return false, err
		}
		s.cache.RemoveGuild(g.ID)
	default:
		return false, nil
	}
	return true, nil
}

// Close sends a gateway close frame and waits up to CloseGracePeriod for
// acknowledgement before marking the shard Closed, per spec §4.7: the
// coordinator's assignment-removal path must not report the shard free
// until its session has actually wound down.
func (s *Shard) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	session := s.session
	cancel := s.cancel
	s.mu.Unlock()

	var err error
	if session != nil {
		err = session.Close(CloseCodeReassigned, CloseGracePeriod)
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	return err
}

// Stats returns a snapshot of this shard's event counters.
func (s *Shard) Stats() Stats {
	return Stats{
		EventsApplied: atomic.LoadUint64(&s.stats.EventsApplied),
		EventsDropped: atomic.LoadUint64(&s.stats.EventsDropped),
	}
}
