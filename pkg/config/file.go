package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mglvsky/pairscan/pkg/types"
)

// FileConfig is the measurement configuration loaded from YAML. It defines
// which parameter sets run, which assets to track and the data quality
// thresholds applied to every market.
type FileConfig struct {
	ParameterSets []ParameterSetConfig `yaml:"parameter_sets"`
	Markets       MarketsConfig        `yaml:"markets"`
	Quality       QualityConfig        `yaml:"quality"`
	WebSocket     WebSocketConfig      `yaml:"websocket"`
}

// ParameterSetConfig mirrors types.ParameterSet in YAML form.
type ParameterSetConfig struct {
	Name                 string  `yaml:"name"`
	S0Points             int     `yaml:"s0_points"`
	DeltaPoints          int     `yaml:"delta_points"`
	TriggerRule          string  `yaml:"trigger_rule"`
	ReferenceSource      string  `yaml:"reference_source"`
	SamplingMode         string  `yaml:"sampling_mode"`
	CycleIntervalSeconds float64 `yaml:"cycle_interval_seconds"`
	CyclesPerMarket      int     `yaml:"cycles_per_market"`
	StopLossPoints       int     `yaml:"stop_loss_points"`
	StopLossEnabled      bool    `yaml:"stop_loss_enabled"`
}

type MarketsConfig struct {
	CryptoAssets                 []string `yaml:"crypto_assets"`
	MarketType                   string   `yaml:"market_type"`
	DiscoveryPollIntervalSeconds int      `yaml:"discovery_poll_interval_seconds"`
	PreDiscoveryLeadSeconds      int      `yaml:"pre_discovery_lead_seconds"`
}

type QualityConfig struct {
	FeedGapThresholdSeconds  float64 `yaml:"feed_gap_threshold_seconds"`
	MaxReferenceSumDeviation int     `yaml:"max_reference_sum_deviation"`
	MaxAnomaliesPerMarket    int     `yaml:"max_anomalies_per_market"`
}

type WebSocketConfig struct {
	HeartbeatIntervalSeconds    int `yaml:"heartbeat_interval_seconds"`
	ReconnectMaxDelaySeconds    int `yaml:"reconnect_max_delay_seconds"`
	BootTimeoutSeconds          int `yaml:"boot_timeout_seconds"`
	RESTFallbackIntervalSeconds int `yaml:"rest_fallback_interval_seconds"`
}

// LoadFile reads and validates the measurement config at path.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &FileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Markets.MarketType == "" {
		c.Markets.MarketType = "updown-15m"
	}
	if c.Markets.DiscoveryPollIntervalSeconds == 0 {
		c.Markets.DiscoveryPollIntervalSeconds = 60
	}
	if c.Markets.PreDiscoveryLeadSeconds == 0 {
		c.Markets.PreDiscoveryLeadSeconds = 120
	}
	if c.Quality.FeedGapThresholdSeconds == 0 {
		c.Quality.FeedGapThresholdSeconds = 5
	}
	if c.Quality.MaxReferenceSumDeviation == 0 {
		c.Quality.MaxReferenceSumDeviation = 2
	}
	if c.Quality.MaxAnomaliesPerMarket == 0 {
		c.Quality.MaxAnomaliesPerMarket = 10
	}
	if c.WebSocket.HeartbeatIntervalSeconds == 0 {
		c.WebSocket.HeartbeatIntervalSeconds = 30
	}
	if c.WebSocket.ReconnectMaxDelaySeconds == 0 {
		c.WebSocket.ReconnectMaxDelaySeconds = 60
	}
	if c.WebSocket.BootTimeoutSeconds == 0 {
		c.WebSocket.BootTimeoutSeconds = 5
	}
	if c.WebSocket.RESTFallbackIntervalSeconds == 0 {
		c.WebSocket.RESTFallbackIntervalSeconds = 2
	}

	for i := range c.ParameterSets {
		ps := &c.ParameterSets[i]
		if ps.TriggerRule == "" {
			ps.TriggerRule = string(types.TriggerAskTouch)
		}
		if ps.ReferenceSource == "" {
			ps.ReferenceSource = string(types.RefMidpoint)
		}
		if ps.SamplingMode == "" {
			ps.SamplingMode = string(types.SamplingFixedInterval)
		}
	}
}

// Validate checks structural constraints. Per-set numeric ranges are
// enforced by types.ParameterSet.Validate during conversion.
func (c *FileConfig) Validate() error {
	if len(c.ParameterSets) == 0 {
		return fmt.Errorf("at least one parameter set is required")
	}
	if len(c.Markets.CryptoAssets) == 0 {
		return fmt.Errorf("at least one crypto asset is required")
	}

	seen := make(map[string]bool, len(c.ParameterSets))
	for _, ps := range c.ParameterSets {
		if ps.Name == "" {
			return fmt.Errorf("parameter set name must not be empty")
		}
		if seen[ps.Name] {
			return fmt.Errorf("duplicate parameter set name %q", ps.Name)
		}
		seen[ps.Name] = true
	}

	if c.Quality.FeedGapThresholdSeconds <= 0 {
		return fmt.Errorf("feed_gap_threshold_seconds must be positive")
	}

	return nil
}

// ToParameterSets converts the YAML parameter sets into domain types,
// validating each one.
func (c *FileConfig) ToParameterSets() ([]types.ParameterSet, error) {
	feedGap := time.Duration(c.Quality.FeedGapThresholdSeconds * float64(time.Second))

	sets := make([]types.ParameterSet, 0, len(c.ParameterSets))
	for _, ps := range c.ParameterSets {
		set := types.ParameterSet{
			Name:             ps.Name,
			S0Points:         ps.S0Points,
			DeltaPoints:      ps.DeltaPoints,
			TriggerRule:      types.TriggerRule(ps.TriggerRule),
			ReferenceSource:  types.ReferenceSource(ps.ReferenceSource),
			SamplingMode:     types.SamplingMode(ps.SamplingMode),
			CycleInterval:    time.Duration(ps.CycleIntervalSeconds * float64(time.Second)),
			CyclesPerMarket:  ps.CyclesPerMarket,
			FeedGapThreshold: feedGap,
			StopLossPoints:   ps.StopLossPoints,
			StopLossEnabled:  ps.StopLossEnabled,
		}
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("parameter set %q: %w", ps.Name, err)
		}
		sets = append(sets, set)
	}

	return sets, nil
}

// DiscoveryPollInterval returns the market discovery poll interval.
func (c *FileConfig) DiscoveryPollInterval() time.Duration {
	return time.Duration(c.Markets.DiscoveryPollIntervalSeconds) * time.Second
}

// PreDiscoveryLead returns how far before a window opens its market
// should be discovered and prepared.
func (c *FileConfig) PreDiscoveryLead() time.Duration {
	return time.Duration(c.Markets.PreDiscoveryLeadSeconds) * time.Second
}

// FeedGapThreshold returns the book staleness threshold.
func (c *FileConfig) FeedGapThreshold() time.Duration {
	return time.Duration(c.Quality.FeedGapThresholdSeconds * float64(time.Second))
}

// HeartbeatInterval returns the websocket ping interval.
func (c *FileConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.WebSocket.HeartbeatIntervalSeconds) * time.Second
}

// ReconnectMaxDelay caps the websocket reconnect backoff.
func (c *FileConfig) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.WebSocket.ReconnectMaxDelaySeconds) * time.Second
}

// BootTimeout is how long a monitor waits for initial stream data before
// falling back to REST polling.
func (c *FileConfig) BootTimeout() time.Duration {
	return time.Duration(c.WebSocket.BootTimeoutSeconds) * time.Second
}

// RESTFallbackInterval is the polling interval used while the stream has
// not yet delivered an initial book.
func (c *FileConfig) RESTFallbackInterval() time.Duration {
	return time.Duration(c.WebSocket.RESTFallbackIntervalSeconds) * time.Second
}
