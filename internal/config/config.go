// Package config loads the mesh node's configuration from a YAML file with
// environment-variable overrides layered on top, mirroring the two-phase
// load the rest of the pack uses: decode defaults, then apply env, then
// fill zero-valued fields with sensible defaults.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Journal      JournalConfig      `yaml:"journal"`
	Mesh         MeshConfig         `yaml:"mesh"`
	Escrow       EscrowConfig       `yaml:"escrow"`
	Reputation   ReputationConfig   `yaml:"reputation"`
	Verifier     VerifierConfig     `yaml:"verifier"`
	Consensus    ConsensusConfig    `yaml:"consensus"`
	Anomaly      AnomalyConfig      `yaml:"anomaly"`
	Redelegation RedelegationConfig `yaml:"redelegation"`
	Decomposer   DecomposerConfig   `yaml:"decomposer"`
	Auction      AuctionConfig      `yaml:"auction"`
	Sybil        SybilConfig        `yaml:"sybil"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Redis        RedisConfig        `yaml:"redis"`
}

type ServerConfig struct {
	Port           int `yaml:"port"`
	ReadTimeoutMs  int `yaml:"read_timeout_ms"`
	WriteTimeoutMs int `yaml:"write_timeout_ms"`
}

type JournalConfig struct {
	Path               string `yaml:"path"`
	CheckpointDir      string `yaml:"checkpoint_dir"`
	MaxSessionsIndexed int    `yaml:"max_sessions_indexed"`
	Fsync              bool   `yaml:"fsync"`
	Lock               bool   `yaml:"lock"`
	Redact             bool   `yaml:"redact"`
	Recovery           string `yaml:"recovery"` // "truncate" | "strict"
}

type MeshConfig struct {
	NodeID              string `yaml:"node_id"`
	DisplayName         string `yaml:"display_name"`
	APIUrl              string `yaml:"api_url"`
	HeartbeatIntervalMs int    `yaml:"heartbeat_interval_ms"`
	SweepIntervalMs     int    `yaml:"sweep_interval_ms"`
	SuspectedAfterMs    int    `yaml:"suspected_after_ms"`
	UnreachableAfterMs  int    `yaml:"unreachable_after_ms"`
	EvictAfterMs        int    `yaml:"evict_after_ms"`
	DelegationTimeoutMs int    `yaml:"delegation_timeout_ms"`
	TrustDomain         string `yaml:"trust_domain"`
}

type EscrowConfig struct {
	MinBondUsd         float64 `yaml:"min_bond_usd"`
	SlashPctOnViolation float64 `yaml:"slash_pct_on_violation"`
	SlashPctOnTimeout  float64 `yaml:"slash_pct_on_timeout"`
}

type ReputationConfig struct {
	DefaultTrustScore float64 `yaml:"default_trust_score"`
}

type VerifierConfig struct {
	SLOStrict bool `yaml:"slo_strict"`
}

type ConsensusConfig struct {
	RequiredVoters    int     `yaml:"required_voters"`
	RequiredAgreement float64 `yaml:"required_agreement"`
}

type AnomalyConfig struct {
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold"`
	FailureRateWindow     int     `yaml:"failure_rate_window"`
	DurationSpikeThreshold float64 `yaml:"duration_spike_threshold"`
	CostSpikeThreshold    float64 `yaml:"cost_spike_threshold"`
}

type RedelegationConfig struct {
	MaxRedelegations       int `yaml:"max_redelegations"`
	RedelegationCooldownMs int `yaml:"redelegation_cooldown_ms"`
}

type DecomposerConfig struct {
	ComplexityFloorWords int `yaml:"complexity_floor_words"`
	MaxSubTasks          int `yaml:"max_sub_tasks"`
}

type AuctionConfig struct {
	DefaultBidDeadlineMs int `yaml:"default_bid_deadline_ms"`
	MinBidsToAward       int `yaml:"min_bids_to_award"`
}

type SybilConfig struct {
	MaxJoinsInWindow   int     `yaml:"max_joins_in_window"`
	JoinWindowMs       int     `yaml:"join_window_ms"`
	PowDifficulty      int     `yaml:"pow_difficulty"`
	RequireProofOfWork bool    `yaml:"require_proof_of_work"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton config, loading it from
// CONFIG_PATH (default "config.yaml") on first call.
func Get() *Config {
	once.Do(func() {
		cfg, err := Load(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load file, using defaults", "error", err)
			cfg = &Config{Verifier: VerifierConfig{SLOStrict: true}}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// Load reads and decodes a YAML config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// slo_strict defaults to true when the file does not set it.
	cfg := Config{Verifier: VerifierConfig{SLOStrict: true}}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnvInt("MESH_PORT", c.Server.Port)
	c.Mesh.NodeID = getEnv("MESH_NODE_ID", c.Mesh.NodeID)
	c.Mesh.APIUrl = getEnv("MESH_API_URL", c.Mesh.APIUrl)
	c.Mesh.TrustDomain = getEnv("MESH_TRUST_DOMAIN", c.Mesh.TrustDomain)
	c.Journal.Path = getEnv("MESH_JOURNAL_PATH", c.Journal.Path)
	c.Journal.CheckpointDir = getEnv("MESH_CHECKPOINT_DIR", c.Journal.CheckpointDir)
	c.Redis.Addr = getEnv("MESH_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Enabled = getEnvBool("MESH_REDIS_ENABLED", c.Redis.Enabled)
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutMs == 0 {
		c.Server.ReadTimeoutMs = 15000
	}
	if c.Server.WriteTimeoutMs == 0 {
		c.Server.WriteTimeoutMs = 15000
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "data/journal.jsonl"
	}
	if c.Journal.CheckpointDir == "" {
		c.Journal.CheckpointDir = "data/checkpoints"
	}
	if c.Journal.MaxSessionsIndexed == 0 {
		c.Journal.MaxSessionsIndexed = 10000
	}
	if c.Journal.Recovery == "" {
		c.Journal.Recovery = "truncate"
	}
	if c.Mesh.NodeID == "" {
		c.Mesh.NodeID = "mesh-local"
	}
	if c.Mesh.HeartbeatIntervalMs == 0 {
		c.Mesh.HeartbeatIntervalMs = 5000
	}
	if c.Mesh.SweepIntervalMs == 0 {
		c.Mesh.SweepIntervalMs = 2000
	}
	if c.Mesh.SuspectedAfterMs == 0 {
		c.Mesh.SuspectedAfterMs = 15000
	}
	if c.Mesh.UnreachableAfterMs == 0 {
		c.Mesh.UnreachableAfterMs = 45000
	}
	if c.Mesh.EvictAfterMs == 0 {
		c.Mesh.EvictAfterMs = 120000
	}
	if c.Mesh.DelegationTimeoutMs == 0 {
		c.Mesh.DelegationTimeoutMs = 60000
	}
	if c.Escrow.MinBondUsd == 0 {
		c.Escrow.MinBondUsd = 0.01
	}
	if c.Escrow.SlashPctOnViolation == 0 {
		c.Escrow.SlashPctOnViolation = 0.5
	}
	if c.Escrow.SlashPctOnTimeout == 0 {
		c.Escrow.SlashPctOnTimeout = 0.5
	}
	if c.Reputation.DefaultTrustScore == 0 {
		c.Reputation.DefaultTrustScore = 0.5
	}
	if c.Consensus.RequiredVoters == 0 {
		c.Consensus.RequiredVoters = 2
	}
	if c.Consensus.RequiredAgreement == 0 {
		c.Consensus.RequiredAgreement = 0.67
	}
	if c.Anomaly.FailureRateThreshold == 0 {
		c.Anomaly.FailureRateThreshold = 0.4
	}
	if c.Anomaly.FailureRateWindow == 0 {
		c.Anomaly.FailureRateWindow = 10
	}
	if c.Anomaly.DurationSpikeThreshold == 0 {
		c.Anomaly.DurationSpikeThreshold = 2.0
	}
	if c.Anomaly.CostSpikeThreshold == 0 {
		c.Anomaly.CostSpikeThreshold = 2.0
	}
	if c.Redelegation.MaxRedelegations == 0 {
		c.Redelegation.MaxRedelegations = 3
	}
	if c.Redelegation.RedelegationCooldownMs == 0 {
		c.Redelegation.RedelegationCooldownMs = 3000
	}
	if c.Decomposer.ComplexityFloorWords == 0 {
		c.Decomposer.ComplexityFloorWords = 20
	}
	if c.Decomposer.MaxSubTasks == 0 {
		c.Decomposer.MaxSubTasks = 8
	}
	if c.Auction.DefaultBidDeadlineMs == 0 {
		c.Auction.DefaultBidDeadlineMs = 5000
	}
	if c.Auction.MinBidsToAward == 0 {
		c.Auction.MinBidsToAward = 1
	}
	if c.Sybil.MaxJoinsInWindow == 0 {
		c.Sybil.MaxJoinsInWindow = 5
	}
	if c.Sybil.JoinWindowMs == 0 {
		c.Sybil.JoinWindowMs = 60000
	}
	if c.Sybil.PowDifficulty == 0 {
		c.Sybil.PowDifficulty = 4
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
