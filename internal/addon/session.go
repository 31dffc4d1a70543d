package addon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/otus-rec/rec-agent/internal/protocol"
)

// statusPollInterval is how often the session asks a running add-on for
// its job statuses in the background (spec Component F).
const statusPollInterval = 200 * time.Millisecond

// pendingHighWaterMark is the request-queue depth above which the status
// poller backs off: an add-on buried in caller-issued requests shouldn't
// also be hounded for status on every tick.
const pendingHighWaterMark = 100

// call is one queued request/response round trip.
type call struct {
	req   protocol.Request
	fd    protocol.FunctionDescriptor
	reply chan<- callResult
}

type callResult struct {
	resp protocol.Response
	err  error
}

// Session owns one add-on's Pipe plus the single worker goroutine that
// serializes every request/response round trip against it (an add-on
// process is not expected to handle concurrent requests).
//
// Lifecycle (spec §4.F): the session enqueues `info` first; only once
// that call returns Ok does it adopt the reported id/name/description
// and spawn the status-poll worker. Until then ID is empty and the
// manager's discovery loop is what's polling for it to become non-empty.
type Session struct {
	pipe *Pipe

	requests chan call

	mu                  sync.RWMutex
	id                  string
	name                string
	description         string
	lastStatus          []map[string]protocol.Variant
	preBufferFrameCount int64
	running             bool
	healthy             bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession starts the request worker and kicks off the info/status
// bootstrap for pipe.
func NewSession(pipe *Pipe) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		pipe:     pipe,
		requests: make(chan call, pendingHighWaterMark*4),
		running:  true,
		healthy:  true,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.worker(ctx)
	go s.bootstrap(ctx)
	return s
}

// ID returns the add-on's self-reported id, or "" if `info` hasn't
// completed yet.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Name and Description return the add-on's self-reported metadata.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) Description() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.description
}

// IsRunning reports whether the session's worker loop is still active.
func (s *Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Healthy reports whether the last status poll succeeded.
func (s *Session) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

// LastStatus returns the most recently polled job_statuses rows.
func (s *Session) LastStatus() []map[string]protocol.Variant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]protocol.Variant, len(s.lastStatus))
	copy(out, s.lastStatus)
	return out
}

// PreBufferFrameCount returns the most recently polled prebuffer_count.
func (s *Session) PreBufferFrameCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preBufferFrameCount
}

// Query enqueues req and blocks for its Response. Once the session has
// been marked not-running (spec §7 category 4: a pipe op failed, or the
// child exited) it short-circuits with a Failed response instead of
// queuing to a pipe nothing is reading from anymore.
func (s *Session) Query(req protocol.Request, fd protocol.FunctionDescriptor) (protocol.Response, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if !running {
		return protocol.Failed("addon session not running"), nil
	}

	reply := make(chan callResult, 1)
	select {
	case s.requests <- call{req: req, fd: fd, reply: reply}:
	default:
		return protocol.Response{}, fmt.Errorf("addon: session request queue full")
	}
	result := <-reply
	return result.resp, result.err
}

func (s *Session) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-s.requests:
			resp, err := Query(c.req, c.fd, s.pipe.WriteLine(), s.pipe.ReadLine())
			c.reply <- callResult{resp: resp, err: err}
			if err != nil {
				s.markUnhealthy(err)
			}
		}
	}
}

// bootstrap performs the spec §4.F session lifecycle step 1: enqueue
// `info`, and only on Ok adopt the reported identity and start the
// status-poll worker (step 2). It blocks (potentially indefinitely, if
// the add-on never answers) rather than retrying; the manager's
// discovery loop is responsible for giving up on a session that never
// completes this.
func (s *Session) bootstrap(ctx context.Context) {
	fd := protocol.Descriptors()[protocol.FuncInfo]
	resp, err := s.Query(protocol.Request{FunctionName: protocol.FuncInfo}, fd)
	if err != nil || resp.Status != protocol.StatusOk || len(resp.Results) == 0 {
		return
	}

	row := resp.Results[0]
	s.mu.Lock()
	if v, ok := row["id"]; ok {
		s.id, _ = v.Str()
	}
	if v, ok := row["name"]; ok {
		s.name, _ = v.Str()
	}
	if v, ok := row["description"]; ok {
		s.description, _ = v.Str()
	}
	id := s.id
	s.mu.Unlock()

	if id == "" {
		return
	}
	go s.pollStatus(ctx)
}

func (s *Session) pollStatus(ctx context.Context) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	descs := protocol.Descriptors()
	countFD := descs[protocol.FuncPrebufferCount]
	statusFD := descs[protocol.FuncJobStatuses]
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if len(s.requests) > pendingHighWaterMark {
				continue
			}

			countResp, err := s.Query(protocol.Request{FunctionName: protocol.FuncPrebufferCount}, countFD)
			if err != nil {
				s.markUnhealthy(err)
				continue
			}
			if countResp.Status == protocol.StatusOk && len(countResp.Results) > 0 {
				if v, ok := countResp.Results[0]["frame_count"]; ok {
					if count, ok := v.Int64(); ok {
						s.mu.Lock()
						s.preBufferFrameCount = count
						s.mu.Unlock()
					}
				}
			}

			statusResp, err := s.Query(protocol.Request{FunctionName: protocol.FuncJobStatuses}, statusFD)
			if err != nil {
				s.markUnhealthy(err)
				continue
			}
			s.mu.Lock()
			s.lastStatus = statusResp.Results
			s.healthy = statusResp.Status == protocol.StatusOk
			s.mu.Unlock()
		}
	}
}

// markUnhealthy flips the session to unhealthy and not-running: once a
// pipe operation fails there is no recovering this process, so future
// Query calls must stop hitting it and status/enable reporting must stop
// counting it (spec §7 category 4).
func (s *Session) markUnhealthy(err error) {
	s.mu.Lock()
	s.healthy = false
	s.running = false
	s.mu.Unlock()
	slog.Warn("addon session unhealthy, marking not running", "session", s.ID(), "error", err)
}

// Stop requests a graceful shutdown of the add-on, falling back to Kill if
// it doesn't exit within graceTimeout.
func (s *Session) Stop(graceTimeout time.Duration) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.cancel()
	<-s.done

	if err := s.pipe.RequestShutdown(graceTimeout); err != nil {
		slog.Warn("addon did not exit gracefully, killing", "session", s.ID(), "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.pipe.Kill(ctx)
	}
	return nil
}
