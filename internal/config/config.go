// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig represents the top-level static configuration for the
// recording daemon. It maps to the `rec-agent:` root key in YAML.
type GlobalConfig struct {
	Node           NodeConfig           `mapstructure:"node"`
	Control        ControlConfig        `mapstructure:"control"`
	Kafka          GlobalKafkaConfig    `mapstructure:"kafka"`
	CommandChannel CommandChannelConfig `mapstructure:"command_channel"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Log            LogConfig            `mapstructure:"log"`
	DataDir        string               `mapstructure:"data_dir"`
	AddonInventory AddonInventoryConfig `mapstructure:"addon_inventory"`
	Recorder       RecorderConfig       `mapstructure:"recorder"`
}

// ─── Node Identity ───

// NodeConfig contains node identification settings.
type NodeConfig struct {
	IP       string            `mapstructure:"ip"`       // Empty = auto-detect
	Hostname string            `mapstructure:"hostname"` // Empty = os.Hostname()
	Tags     map[string]string `mapstructure:"tags"`
}

// ─── Control Plane ───

// ControlConfig contains local control plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Kafka Global Default ───

// GlobalKafkaConfig provides shared Kafka connection defaults, inherited by
// command_channel.kafka when its own fields are left empty.
type GlobalKafkaConfig struct {
	Brokers []string   `mapstructure:"brokers"`
	SASL    SASLConfig `mapstructure:"sasl"`
	TLS     TLSConfig  `mapstructure:"tls"`
}

// SASLConfig contains SASL authentication settings.
type SASLConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig contains TLS settings.
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// ─── Command Channel ───

// CommandChannelConfig configures the remote command channel — the second
// transport (besides the local UDS socket) through which control commands
// (StartRecording, StopRecording, …) enter the engine (spec §2).
type CommandChannelConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	Type       string             `mapstructure:"type"` // "kafka"
	Kafka      CommandKafkaConfig `mapstructure:"kafka"`
	CommandTTL string             `mapstructure:"command_ttl"` // Default "5m"
}

// CommandKafkaConfig contains Kafka-specific command channel settings.
// Brokers/SASL/TLS inherit from GlobalKafkaConfig when empty/zero.
type CommandKafkaConfig struct {
	Brokers         []string   `mapstructure:"brokers"`
	Topic           string     `mapstructure:"topic"`
	ResponseTopic   string     `mapstructure:"response_topic"` // empty = disabled
	GroupID         string     `mapstructure:"group_id"`
	AutoOffsetReset string     `mapstructure:"auto_offset_reset"`
	SASL            SASLConfig `mapstructure:"sasl"`
	TLS             TLSConfig  `mapstructure:"tls"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	CollectInterval string `mapstructure:"collect_interval"` // e.g. "5s"; not read by the metrics server or by reload
}

// ─── Log ───

// LogConfig contains logging settings: a level/format pair plus an
// ordered list of output sinks (console, rotating file, Loki).
type LogConfig struct {
	Level   string         `mapstructure:"level"`  // debug / info / warn / error
	Format  string         `mapstructure:"format"` // json / text
	Outputs []OutputConfig `mapstructure:"outputs"`
}

// OutputConfig describes one log sink.
type OutputConfig struct {
	Type string `mapstructure:"type"` // console | file | loki

	// file
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`

	// loki
	Endpoint      string            `mapstructure:"endpoint"`
	Labels        map[string]string `mapstructure:"labels"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval string            `mapstructure:"flush_interval"`
}

// ─── Add-on inventory persistence ───

// AddonInventoryConfig is the settings block for an add-on inventory
// cache. The add-on manager does not read it and persists nothing: add-ons
// are rediscovered from the search directory on every start.
type AddonInventoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ─── Recorder ───

// RecorderConfig carries the engine's construction-time defaults: the
// pre-buffer window, the default topic filter, where measurements land on
// disk, and where to look for add-on executables.
type RecorderConfig struct {
	DefaultPreBufferLength string   `mapstructure:"default_pre_buffer_length"` // duration, e.g. "4s"
	PreBufferEnabled       bool     `mapstructure:"pre_buffer_enabled"`
	RecordMode             string   `mapstructure:"record_mode"` // all | blacklist | whitelist
	ListedTopics           []string `mapstructure:"listed_topics"`
	HostFilter             []string `mapstructure:"host_filter"`
	MeasurementRootDir     string   `mapstructure:"measurement_root_dir"`
	AddonSearchDir         string   `mapstructure:"addon_search_dir"`
	SupportFiles           []string `mapstructure:"support_files"`
	FrameTopics            []string `mapstructure:"frame_topics"` // loaded but not read by the engine or the middleware
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `rec-agent: ...`.
type configRoot struct {
	RecAgent GlobalConfig `mapstructure:"rec-agent"`
}

// Load loads configuration from file.
// The YAML file uses `rec-agent:` as root key; env vars use REC_AGENT_
// prefix (e.g., REC_AGENT_LOG_LEVEL).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.RecAgent

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("rec-agent.control.pid_file", "/var/run/rec-agent.pid")
	v.SetDefault("rec-agent.control.socket", "/var/run/rec-agent.sock")

	v.SetDefault("rec-agent.log.level", "info")
	v.SetDefault("rec-agent.log.format", "json")
	v.SetDefault("rec-agent.log.outputs", []map[string]any{{"type": "console"}})

	v.SetDefault("rec-agent.metrics.enabled", true)
	v.SetDefault("rec-agent.metrics.listen", ":9091")
	v.SetDefault("rec-agent.metrics.path", "/metrics")
	v.SetDefault("rec-agent.metrics.collect_interval", "5s")

	v.SetDefault("rec-agent.command_channel.enabled", false)
	v.SetDefault("rec-agent.command_channel.type", "kafka")
	v.SetDefault("rec-agent.command_channel.kafka.auto_offset_reset", "latest")
	v.SetDefault("rec-agent.command_channel.command_ttl", "5m")

	v.SetDefault("rec-agent.data_dir", "/var/lib/rec-agent")
	v.SetDefault("rec-agent.addon_inventory.enabled", true)

	v.SetDefault("rec-agent.recorder.default_pre_buffer_length", "4s")
	v.SetDefault("rec-agent.recorder.pre_buffer_enabled", true)
	v.SetDefault("rec-agent.recorder.record_mode", "all")
	v.SetDefault("rec-agent.recorder.measurement_root_dir", "/var/lib/rec-agent/measurements")
	v.SetDefault("rec-agent.recorder.addon_search_dir", "./addons")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults: node hostname/IP auto-detection and Kafka inheritance.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	applyKafkaInheritance(cfg)

	switch strings.ToLower(cfg.Recorder.RecordMode) {
	case "all", "blacklist", "whitelist":
	default:
		return fmt.Errorf("invalid recorder.record_mode: %s (must be all/blacklist/whitelist)", cfg.Recorder.RecordMode)
	}

	if cfg.CommandChannel.Enabled {
		if cfg.CommandChannel.Type != "kafka" {
			return fmt.Errorf("unsupported command_channel.type: %s (only 'kafka' supported)", cfg.CommandChannel.Type)
		}
		if len(cfg.CommandChannel.Kafka.Brokers) == 0 {
			return fmt.Errorf("command_channel.kafka.brokers is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.Topic == "" {
			return fmt.Errorf("command_channel.kafka.topic is required when command_channel.enabled=true")
		}
		if cfg.CommandChannel.Kafka.GroupID == "" {
			cfg.CommandChannel.Kafka.GroupID = "rec-agent-" + cfg.Node.Hostname
		}
	}

	return nil
}

// resolveNodeIP resolves the node IP address.
// Priority: explicit config/env value → auto-detect → error.
func resolveNodeIP(node *NodeConfig) (string, error) {
	if node.IP != "" {
		return node.IP, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set REC_AGENT_NODE_IP or rec-agent.node.ip")
}

// applyKafkaInheritance applies global Kafka config inheritance: the
// command channel's Kafka settings fall back to the top-level Kafka
// connection when left unset.
func applyKafkaInheritance(cfg *GlobalConfig) {
	global := &cfg.Kafka

	cc := &cfg.CommandChannel.Kafka
	if len(cc.Brokers) == 0 {
		cc.Brokers = global.Brokers
	}
	if !cc.SASL.Enabled && global.SASL.Enabled {
		cc.SASL = global.SASL
	}
	if !cc.TLS.Enabled && global.TLS.Enabled {
		cc.TLS = global.TLS
	}
}
