package addon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/protocol"
)

// pathListSeparator matches the platform's PATH-style separator, used to
// split ECAL_REC_ADDON_PATH (spec §6.3 / §4.G).
func pathListSeparator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// initAttempts and initAttemptInterval bound how long Manager waits for a
// freshly spawned add-on to report its id (via the `info` bootstrap) before
// giving up on it.
const (
	initAttempts       = 20
	initAttemptInterval = 50 * time.Millisecond
)

// Handle groups a running Session with the metadata an operator cares
// about: whether it was administratively disabled, and whether discovery
// classified it as unresponsive.
type Handle struct {
	Session      *Session
	Path         string
	Disabled     bool
	Unresponsive bool
}

// PreBufferConfig mirrors the engine's current pre-buffer settings. It is
// pushed to an add-on whenever it transitions from disabled to enabled, so
// the add-on's own pre-buffer mirrors whatever the engine is already
// running (spec §4.G).
type PreBufferConfig struct {
	Enabled bool
	Length  time.Duration
}

// Manager discovers, spawns and fans control operations out to add-on
// subprocesses (spec Component G).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Handle

	engineInitialized bool
	preBuffer         PreBufferConfig
}

// NewManager returns an empty Manager; call Discover to populate it.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Handle)}
}

// SetEngineInitialized records whether the engine has completed its own
// `initialize` step. A session enabled before that point is only pushed
// its pre-buffer config; the `initialize` call itself waits until the
// engine reaches this state (spec §4.G: "if the engine is initialized").
func (m *Manager) SetEngineInitialized(initialized bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.engineInitialized = initialized
}

// SetPreBufferConfig records the engine's current pre-buffer settings, so
// any add-on enabled afterward is handed a matching config.
func (m *Manager) SetPreBufferConfig(cfg PreBufferConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preBuffer = cfg
}

// Discover walks defaultDir plus every directory named in the
// ECAL_REC_ADDON_PATH environment variable, spawning every executable file
// it finds and waiting for each session to complete its info bootstrap.
// Add-ons that never report an id within initAttempts tries are recorded
// as unresponsive rather than dropped, so an operator can see they were
// found but aren't answering.
func (m *Manager) Discover(ctx context.Context, defaultDir string) error {
	dirs := []string{defaultDir}
	if extra := os.Getenv("ECAL_REC_ADDON_PATH"); extra != "" {
		dirs = append(dirs, strings.Split(extra, pathListSeparator())...)
	}

	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.Mode()&0111 == 0 {
				continue
			}
			// Duplicate addon ids (spec §12) are resolved once the
			// session's real id is known, inside spawnAndRegister.
			m.spawnAndRegister(ctx, entry.Name(), filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}

// spawnAndRegister spawns the executable at path and waits for its
// session to complete the info bootstrap (spec §4.G "Initialization
// loop"): poll for a non-empty addon_id up to initAttempts tries, with
// initAttemptInterval between polls. fallbackID (the executable's file
// name) is used to key the session if it never reports one, so an
// unresponsive add-on is still visible to operators rather than dropped.
func (m *Manager) spawnAndRegister(ctx context.Context, fallbackID, path string) {
	pipe, err := Spawn(path)
	if err != nil {
		slog.Error("failed to spawn addon", "path", path, "error", err)
		return
	}
	session := NewSession(pipe)

	id := ""
	for i := 0; i < initAttempts; i++ {
		if id = session.ID(); id != "" {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(initAttemptInterval):
		}
	}

	unresponsive := id == ""
	if unresponsive {
		id = fallbackID
		slog.Warn("addon did not report an id, marking unresponsive", "fallback_id", fallbackID, "path", path)
	}

	m.mu.Lock()
	if existing, dup := m.sessions[id]; dup {
		slog.Warn("duplicate addon id, keeping first one found", "id", id, "existing_path", existing.Path, "new_path", path)
		m.mu.Unlock()
		return
	}
	m.sessions[id] = &Handle{Session: session, Path: path, Disabled: unresponsive, Unresponsive: unresponsive}
	m.mu.Unlock()
}

// Enabled returns the sessions of add-ons that are neither administratively
// disabled nor unresponsive.
func (m *Manager) Enabled() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Handle
	for _, h := range m.sessions {
		if !h.Disabled && h.Session.IsRunning() {
			out = append(out, h)
		}
	}
	return out
}

// SetEnabled administratively enables or disables an add-on by id. A
// disabled→enabled transition pushes the current pre-buffer config and
// (once the engine is initialized) an `initialize` call; the reverse sends
// a `deinitialize` (spec §4.G set_enabled_addons). It is a no-op if the
// add-on is already in the requested state.
func (m *Manager) SetEnabled(id string, enabled bool) bool {
	m.mu.Lock()
	h, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if h.Disabled == !enabled {
		m.mu.Unlock()
		return true
	}
	h.Disabled = !enabled
	engineInitialized := m.engineInitialized
	preBuffer := m.preBuffer
	m.mu.Unlock()

	descs := protocol.Descriptors()
	if enabled {
		m.pushPreBufferConfig(h.Session, preBuffer, descs)
		if engineInitialized {
			m.query(h.Session, protocol.FuncInitialize, nil, descs)
		}
	} else {
		m.query(h.Session, protocol.FuncDeinitialize, nil, descs)
	}
	return true
}

// pushPreBufferConfig sends set_prebuffer_length followed by
// enable_prebuffering or disable_prebuffering, matching cfg.
func (m *Manager) pushPreBufferConfig(s *Session, cfg PreBufferConfig, descs map[string]protocol.FunctionDescriptor) {
	m.query(s, protocol.FuncSetPrebufferLength, map[string]protocol.Variant{
		"duration": protocol.Int64Variant(cfg.Length.Milliseconds()),
	}, descs)
	if cfg.Enabled {
		m.query(s, protocol.FuncEnablePrebuffering, nil, descs)
	} else {
		m.query(s, protocol.FuncDisablePrebuffering, nil, descs)
	}
}

// query issues one request against s and logs a warning on failure; callers
// in SetEnabled treat these control calls as best-effort, the same way
// engine.go's broadcasts do.
func (m *Manager) query(s *Session, funcName string, params map[string]protocol.Variant, descs map[string]protocol.FunctionDescriptor) {
	fd := descs[funcName]
	resp, err := s.Query(protocol.Request{FunctionName: funcName, Parameters: params}, fd)
	if err != nil {
		slog.Warn("addon control call failed", "session", s.ID(), "function", funcName, "error", err)
		return
	}
	if resp.Status != protocol.StatusOk {
		slog.Warn("addon control call rejected", "session", s.ID(), "function", funcName, "message", resp.Message)
	}
}

// Broadcast fans req out to every enabled, running add-on and collects the
// responses keyed by add-on id.
func (m *Manager) Broadcast(req protocol.Request, fd protocol.FunctionDescriptor) map[string]protocol.Response {
	handles := m.Enabled()
	out := make(map[string]protocol.Response, len(handles))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			resp, err := h.Session.Query(req, fd)
			if err != nil {
				resp = protocol.Failed(err.Error())
			}
			mu.Lock()
			out[h.Session.ID()] = resp
			mu.Unlock()
		}(h)
	}
	wg.Wait()
	return out
}

// StopAll gracefully stops every known session, enabled or not.
func (m *Manager) StopAll(graceTimeout time.Duration) {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := h.Session.Stop(graceTimeout); err != nil {
				slog.Warn("error stopping addon", "id", h.Session.ID(), "error", err)
			}
		}(h)
	}
	wg.Wait()
}
