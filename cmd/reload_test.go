package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/otus-rec/rec-agent/internal/command"
)

type fakeReloader struct {
	resp *command.Response
	err  error
}

func (f *fakeReloader) ConfigReload(ctx context.Context) (*command.Response, error) {
	return f.resp, f.err
}

func TestRunReload_Success(t *testing.T) {
	var buf bytes.Buffer
	client := &fakeReloader{resp: &command.Response{ID: "1", Result: "reloaded"}}

	if err := runReload(context.Background(), client, &buf); err != nil {
		t.Fatalf("runReload failed: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("reloaded successfully")) {
		t.Errorf("expected success message, got %q", buf.String())
	}
}

func TestRunReload_TransportFailure(t *testing.T) {
	var buf bytes.Buffer
	client := &fakeReloader{err: errors.New("connection refused")}

	err := runReload(context.Background(), client, &buf)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunReload_DaemonRejected(t *testing.T) {
	var buf bytes.Buffer
	client := &fakeReloader{resp: &command.Response{
		ID:    "1",
		Error: &command.ErrorInfo{Code: command.ErrCodeInternalError, Message: "bad config"},
	}}

	err := runReload(context.Background(), client, &buf)
	if err == nil {
		t.Fatal("expected error when daemon rejects reload")
	}
}
