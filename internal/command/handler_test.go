package command

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/otus-rec/rec-agent/internal/addon"
	"github.com/otus-rec/rec-agent/internal/middleware"
	"github.com/otus-rec/rec-agent/internal/recorder"
	"github.com/otus-rec/rec-agent/internal/upload"
)

func newTestHandler(t *testing.T) (*CommandHandler, *recorder.Engine) {
	t.Helper()
	engine := recorder.New(recorder.EngineConfig{
		HostName:            "test-host",
		DefaultPreBufferLen: time.Second,
	}, middleware.NewFake(), addon.NewManager(), upload.NewFake())

	var nextID int64
	h := NewCommandHandler(engine, addon.NewManager(), nil, func() int64 {
		nextID++
		return nextID
	})
	return h, engine
}

func mustParams(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return data
}

func TestHandleUnknownMethod(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{Method: "bogus.method", ID: "1"})
	if resp.Error == nil || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("expected ErrCodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestHandleRecordStartAndStop(t *testing.T) {
	h, _ := newTestHandler(t)
	dir := t.TempDir()

	start := h.Handle(context.Background(), Command{
		Method: "record.start",
		ID:     "req-1",
		Params: mustParams(t, RecordStartParams{
			MeasurementRootDir: dir,
			MeasurementName:    "meas1",
			Description:        "test run",
		}),
	})
	if start.Error != nil {
		t.Fatalf("record.start failed: %+v", start.Error)
	}

	stop := h.Handle(context.Background(), Command{Method: "record.stop", ID: "req-2"})
	if stop.Error != nil {
		t.Fatalf("record.stop failed: %+v", stop.Error)
	}
}

func TestHandleRecordStartTwiceRejected(t *testing.T) {
	h, _ := newTestHandler(t)
	dir := t.TempDir()

	params := mustParams(t, RecordStartParams{MeasurementRootDir: dir, MeasurementName: "meas-a"})
	first := h.Handle(context.Background(), Command{Method: "record.start", ID: "1", Params: params})
	if first.Error != nil {
		t.Fatalf("first record.start failed: %+v", first.Error)
	}

	params2 := mustParams(t, RecordStartParams{MeasurementRootDir: dir, MeasurementName: "meas-b"})
	second := h.Handle(context.Background(), Command{Method: "record.start", ID: "2", Params: params2})
	if second.Error == nil {
		t.Fatal("expected second record.start to be rejected while already recording")
	}
}

func TestHandleRecordStartInvalidParams(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{
		Method: "record.start",
		ID:     "1",
		Params: json.RawMessage(`{not valid json`),
	})
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Fatalf("expected ErrCodeInvalidParams, got %+v", resp.Error)
	}
}

func TestHandleRecordStatusEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{Method: "record.status", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("record.status failed: %+v", resp.Error)
	}
	statuses, ok := resp.Result.([]recorder.JobStatus)
	if !ok {
		t.Fatalf("expected []recorder.JobStatus result, got %T", resp.Result)
	}
	if len(statuses) != 0 {
		t.Errorf("expected no jobs yet, got %d", len(statuses))
	}
}

func TestHandleSetRecordModeInvalid(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{
		Method: "record.set_mode",
		ID:     "1",
		Params: mustParams(t, RecordModeParams{Mode: "nonsense"}),
	})
	if resp.Error == nil || resp.Error.Code != ErrCodeInvalidParams {
		t.Fatalf("expected ErrCodeInvalidParams, got %+v", resp.Error)
	}
}

func TestHandleSetRecordModeValid(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{
		Method: "record.set_mode",
		ID:     "1",
		Params: mustParams(t, RecordModeParams{Mode: "whitelist"}),
	})
	if resp.Error != nil {
		t.Fatalf("record.set_mode failed: %+v", resp.Error)
	}
}

func TestHandleAddonListEmpty(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{Method: "addon.list", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("addon.list failed: %+v", resp.Error)
	}
	infos, ok := resp.Result.([]AddonInfo)
	if !ok {
		t.Fatalf("expected []AddonInfo, got %T", resp.Result)
	}
	if len(infos) != 0 {
		t.Errorf("expected no addons, got %d", len(infos))
	}
}

func TestHandleAddonEnableUnknown(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{
		Method: "addon.enable",
		ID:     "1",
		Params: mustParams(t, AddonEnableParams{ID: "does-not-exist"}),
	})
	if resp.Error == nil {
		t.Fatal("expected error enabling unknown addon")
	}
}

func TestHandleDaemonStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{Method: "daemon.status", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("daemon.status failed: %+v", resp.Error)
	}
	status, ok := resp.Result.(DaemonStatus)
	if !ok {
		t.Fatalf("expected DaemonStatus, got %T", resp.Result)
	}
	if status.JobCount != 0 {
		t.Errorf("expected 0 jobs, got %d", status.JobCount)
	}
}

func TestHandleDaemonShutdownInvokesCallback(t *testing.T) {
	h, _ := newTestHandler(t)
	done := make(chan struct{})
	h.SetShutdownFunc(func() { close(done) })

	resp := h.Handle(context.Background(), Command{Method: "daemon.shutdown", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("daemon.shutdown failed: %+v", resp.Error)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback was not invoked")
	}
}

func TestHandleConfigReloadWithoutReloader(t *testing.T) {
	h, _ := newTestHandler(t)
	resp := h.Handle(context.Background(), Command{Method: "config.reload", ID: "1"})
	if resp.Error == nil {
		t.Fatal("expected error when no ConfigReloader configured")
	}
}

type stubReloader struct{ called bool }

func (s *stubReloader) Reload() error { s.called = true; return nil }

func TestHandleConfigReloadWithReloader(t *testing.T) {
	engine := recorder.New(recorder.EngineConfig{HostName: "h", DefaultPreBufferLen: time.Second}, middleware.NewFake(), addon.NewManager(), upload.NewFake())
	reloader := &stubReloader{}
	var nextID int64
	h := NewCommandHandler(engine, addon.NewManager(), reloader, func() int64 { nextID++; return nextID })

	resp := h.Handle(context.Background(), Command{Method: "config.reload", ID: "1"})
	if resp.Error != nil {
		t.Fatalf("config.reload failed: %+v", resp.Error)
	}
	if !reloader.called {
		t.Error("expected Reload to be called")
	}
}
