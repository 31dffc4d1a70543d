package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, path, hostname, socketPath, logPath string, logLevel string) {
	t.Helper()
	content := `
rec-agent:
  node:
    hostname: ` + hostname + `
    ip: "10.0.0.1"
  control:
    socket: ` + socketPath + `
  log:
    level: ` + logLevel + `
    format: text
    outputs:
      - type: file
        path: ` + logPath + `
        max_size_mb: 10
        max_backups: 3
        max_age_days: 7
  metrics:
    enabled: false
  recorder:
    pre_buffer_enabled: false
    addon_search_dir: ` + filepath.Dir(path) + `
  command_channel:
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
}

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yml")
	socketPath := filepath.Join(tmpDir, "rec-agent.sock")
	pidFile := filepath.Join(tmpDir, "rec-agent.pid")
	logPath := filepath.Join(tmpDir, "rec-agent.log")

	writeTestConfig(t, configPath, "test-daemon-001", socketPath, logPath, "debug")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Errorf("UDS socket was not created: %s", socketPath)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	time.Sleep(100 * time.Millisecond)

	d.TriggerShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
}

func TestDaemon_ReloadLogLevel(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yml")
	socketPath := filepath.Join(tmpDir, "rec-agent.sock")
	pidFile := filepath.Join(tmpDir, "rec-agent.pid")
	logPath := filepath.Join(tmpDir, "rec-agent.log")

	writeTestConfig(t, configPath, "test-reload-001", socketPath, logPath, "info")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	if d.config.Log.Level != "info" {
		t.Fatalf("expected initial level info, got %s", d.config.Log.Level)
	}

	writeTestConfig(t, configPath, "test-reload-001", socketPath, logPath, "debug")

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if d.config.Log.Level != "debug" {
		t.Fatalf("expected level debug after reload, got %s", d.config.Log.Level)
	}
}

func TestDaemon_ReloadDoesNotDisturbRunningJob(t *testing.T) {
	tmpDir := t.TempDir()

	configPath := filepath.Join(tmpDir, "config.yml")
	socketPath := filepath.Join(tmpDir, "rec-agent.sock")
	pidFile := filepath.Join(tmpDir, "rec-agent.pid")
	logPath := filepath.Join(tmpDir, "rec-agent.log")

	writeTestConfig(t, configPath, "test-reload-002", socketPath, logPath, "info")

	d, err := New(configPath, socketPath, pidFile)
	if err != nil {
		t.Fatalf("new daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer d.Stop()

	initialCount := len(d.engine.JobStatuses())

	if err := d.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	afterCount := len(d.engine.JobStatuses())
	if initialCount != afterCount {
		t.Fatalf("job count changed after reload: %d -> %d", initialCount, afterCount)
	}
}
