// Package config loads process configuration (spec §6): the environment
// variables every process reads at startup, with an optional YAML
// overlay for the tunables spec §5 calls out as configurable
// (heartbeat interval, succession base delay, dead-peer grace, HTTP
// timeout).
//
// Grounded on the pack's viper.AutomaticEnv() + GetString pattern
// (orbas1-Synnergy's cmd/explorer and cmd/cli entrypoints), with a YAML
// file layer parsed by yaml.v3 and merged via viper's MergeConfigMap so an operator
// can check in a shardcoord.yaml instead of exporting a dozen
// environment variables in their process supervisor.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/shardcoord/internal/cluster"
)

// Config is every tunable a coordinator or worker process reads at
// startup, per spec §5 and §6.
type Config struct {
	// ProcessID is this process's stable cluster identity. Auto-generated
	// as a UUID if PROCESS_ID is unset.
	ProcessID cluster.ProcessID
	// SelfURL is the base URL this process's control-plane listens on and
	// advertises to peers, e.g. "http://10.0.1.4:8080".
	SelfURL string
	// ListenAddr is the local bind address for the HTTP server, e.g.
	// ":8080".
	ListenAddr string

	// DiscordToken authenticates the gateway and REST clients.
	DiscordToken string
	// CoordinatorURL is the initial coordinator to register against.
	// Required for workers; unused for a process starting as coordinator.
	CoordinatorURL string
	// TotalShards is the cluster-wide shard count. Coordinator-only in
	// configuration; workers learn it from RegisterResponse. Zero means
	// "derive from Discord's GET /gateway/bot".
	TotalShards int

	HeartbeatInterval  time.Duration
	HTTPTimeout        time.Duration
	DeadPeerGrace      time.Duration
	SuccessionBaseStep time.Duration
	CoordinatorPollInt time.Duration
	ShutdownDeadline   time.Duration

	LogLevel string
}

func defaults() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("heartbeat_interval_ms", 15000)
	v.SetDefault("http_timeout_ms", 10000)
	v.SetDefault("dead_peer_grace_s", 60)
	v.SetDefault("succession_base_step_s", 10)
	v.SetDefault("coordinator_poll_interval_s", 5)
	v.SetDefault("shutdown_deadline_s", 30)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("total_shards", 0)
	return v
}

// Load reads configuration from the environment and, if present, a YAML
// overlay at yamlPath (pass "" to skip). Environment variables always
// take precedence over the YAML file, matching viper's own merge order.
func Load(yamlPath string) (*Config, error) {
	v := defaults()

	if yamlPath != "" {
		if err := mergeYAMLOverlay(v, yamlPath); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	processID := v.GetString("process_id")
	if processID == "" {
		processID = uuid.NewString()
	}

	cfg := &Config{
		ProcessID:          cluster.ProcessID(processID),
		SelfURL:            v.GetString("self_url"),
		ListenAddr:         v.GetString("listen_addr"),
		DiscordToken:       v.GetString("discord_token"),
		CoordinatorURL:     v.GetString("shard_coordinator_url"),
		TotalShards:        v.GetInt("total_shards"),
		HeartbeatInterval:  time.Duration(v.GetInt("heartbeat_interval_ms")) * time.Millisecond,
		HTTPTimeout:        time.Duration(v.GetInt("http_timeout_ms")) * time.Millisecond,
		DeadPeerGrace:      time.Duration(v.GetInt("dead_peer_grace_s")) * time.Second,
		SuccessionBaseStep: time.Duration(v.GetInt("succession_base_step_s")) * time.Second,
		CoordinatorPollInt: time.Duration(v.GetInt("coordinator_poll_interval_s")) * time.Second,
		ShutdownDeadline:   time.Duration(v.GetInt("shutdown_deadline_s")) * time.Second,
		LogLevel:           v.GetString("log_level"),
	}
	return cfg, cfg.validate()
}

// mergeYAMLOverlay parses yamlPath with yaml.v3 directly (rather than
// viper's own config-file reader) so the overlay's keys merge into v
// as a plain map, letting AutomaticEnv continue to take precedence.
func mergeYAMLOverlay(v *viper.Viper, yamlPath string) error {
	data, err := os.ReadFile(yamlPath)
	if err != nil {
		return err
	}
	var overlay map[string]any
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return err
	}
	return v.MergeConfigMap(overlay)
}

func (c *Config) validate() error {
	if c.SelfURL == "" {
		return fmt.Errorf("config: SELF_URL is required")
	}
	if c.DiscordToken == "" {
		return fmt.Errorf("config: DISCORD_TOKEN is required")
	}
	return nil
}

// IsCoordinator reports whether this process should start in the
// Coordinator role: no upstream coordinator URL was configured to join.
func (c *Config) IsCoordinator() bool {
	return c.CoordinatorURL == ""
}
