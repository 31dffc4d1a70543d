package config

import (
	"os"
	"path/filepath"
	"testing"
)

// helper to write a tmp YAML file and return its path.
func writeTmpConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("write tmp config: %v", err)
	}
	return p
}

// ── Load & validate round-trip ──

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
    hostname: "test-host"
    tags:
      env: "test"
  control:
    socket: "/tmp/test.sock"
    pid_file: "/tmp/test.pid"
  kafka:
    brokers:
      - "kafka1:9092"
  log:
    level: "debug"
    format: "json"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
    path: "/metrics"
  recorder:
    record_mode: "all"
    measurement_root_dir: "/data/measurements"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Node
	if cfg.Node.IP != "10.0.0.1" {
		t.Errorf("Node.IP = %q, want 10.0.0.1", cfg.Node.IP)
	}
	if cfg.Node.Hostname != "test-host" {
		t.Errorf("Node.Hostname = %q, want test-host", cfg.Node.Hostname)
	}
	if cfg.Node.Tags["env"] != "test" {
		t.Errorf("Node.Tags[env] = %q, want test", cfg.Node.Tags["env"])
	}

	// Control
	if cfg.Control.Socket != "/tmp/test.sock" {
		t.Errorf("Control.Socket = %q, want /tmp/test.sock", cfg.Control.Socket)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("Control.PIDFile = %q, want /tmp/test.pid", cfg.Control.PIDFile)
	}

	// Kafka
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "kafka1:9092" {
		t.Errorf("Kafka.Brokers = %v, want [kafka1:9092]", cfg.Kafka.Brokers)
	}

	// Log
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}

	// Metrics
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if cfg.Metrics.Listen != "0.0.0.0:9090" {
		t.Errorf("Metrics.Listen = %q, want 0.0.0.0:9090", cfg.Metrics.Listen)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}

	// Recorder
	if cfg.Recorder.RecordMode != "all" {
		t.Errorf("Recorder.RecordMode = %q, want all", cfg.Recorder.RecordMode)
	}
	if cfg.Recorder.MeasurementRootDir != "/data/measurements" {
		t.Errorf("Recorder.MeasurementRootDir = %q, want /data/measurements", cfg.Recorder.MeasurementRootDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yml"); err == nil {
		t.Error("Load with missing file should fail")
	}
}

// ── Defaults ──

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Control.Socket != "/var/run/rec-agent.sock" {
		t.Errorf("Control.Socket default = %q", cfg.Control.Socket)
	}
	if cfg.Control.PIDFile != "/var/run/rec-agent.pid" {
		t.Errorf("Control.PIDFile default = %q", cfg.Control.PIDFile)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled default should be true")
	}
	if cfg.Metrics.Listen != ":9091" {
		t.Errorf("Metrics.Listen default = %q", cfg.Metrics.Listen)
	}
	if len(cfg.Log.Outputs) != 1 || cfg.Log.Outputs[0].Type != "console" {
		t.Errorf("Log.Outputs default = %+v, want single console output", cfg.Log.Outputs)
	}
	if cfg.Recorder.RecordMode != "all" {
		t.Errorf("Recorder.RecordMode default = %q, want all", cfg.Recorder.RecordMode)
	}
	if cfg.Recorder.DefaultPreBufferLength != "4s" {
		t.Errorf("Recorder.DefaultPreBufferLength default = %q, want 4s", cfg.Recorder.DefaultPreBufferLength)
	}
	if !cfg.AddonInventory.Enabled {
		t.Error("AddonInventory.Enabled default should be true")
	}
}

// ── Hostname auto-detection ──

func TestHostnameAutoDetected(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Node.Hostname == "" {
		t.Error("Node.Hostname should be auto-detected when omitted")
	}
}

// ── Validation failures ──

func TestInvalidLogLevel(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "verbose"
    format: "json"
`))
	if err == nil {
		t.Error("Load should fail on invalid log level")
	}
}

func TestInvalidLogFormat(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "yaml"
`))
	if err == nil {
		t.Error("Load should fail on invalid log format")
	}
}

func TestInvalidRecordMode(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
  recorder:
    record_mode: "weird"
`))
	if err == nil {
		t.Error("Load should fail on invalid recorder.record_mode")
	}
}

func TestCommandChannelRequiresBrokers(t *testing.T) {
	_, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
  command_channel:
    enabled: true
    type: "kafka"
    kafka:
      topic: "commands"
`))
	if err == nil {
		t.Error("Load should fail when command_channel enabled without brokers")
	}
}

// ── Kafka inheritance ──

func TestKafkaInheritance(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
  kafka:
    brokers:
      - "global1:9092"
      - "global2:9092"
  command_channel:
    enabled: true
    type: "kafka"
    kafka:
      topic: "commands"
      group_id: "test-group"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.CommandChannel.Kafka.Brokers) != 2 {
		t.Fatalf("CommandChannel.Kafka.Brokers = %v, want inherited global brokers", cfg.CommandChannel.Kafka.Brokers)
	}
	if cfg.CommandChannel.Kafka.Brokers[0] != "global1:9092" {
		t.Errorf("CommandChannel.Kafka.Brokers[0] = %q, want global1:9092", cfg.CommandChannel.Kafka.Brokers[0])
	}
}

func TestKafkaInheritanceNotOverriddenWhenSet(t *testing.T) {
	cfg, err := Load(writeTmpConfig(t, `
rec-agent:
  node:
    ip: "10.0.0.1"
  log:
    level: "info"
    format: "json"
  kafka:
    brokers:
      - "global1:9092"
  command_channel:
    enabled: true
    type: "kafka"
    kafka:
      brokers:
        - "dedicated1:9092"
      topic: "commands"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.CommandChannel.Kafka.Brokers) != 1 || cfg.CommandChannel.Kafka.Brokers[0] != "dedicated1:9092" {
		t.Errorf("CommandChannel.Kafka.Brokers = %v, want own dedicated brokers preserved", cfg.CommandChannel.Kafka.Brokers)
	}
}
