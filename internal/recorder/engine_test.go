package recorder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/otus-rec/rec-agent/internal/addon"
	"github.com/otus-rec/rec-agent/internal/middleware"
	"github.com/otus-rec/rec-agent/internal/upload"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	mw := middleware.NewFake()
	am := addon.NewManager()
	e := New(EngineConfig{HostName: "testhost", DefaultPreBufferLen: time.Minute}, mw, am, upload.NewFake())
	return e
}

func TestStartStopRecordingFrameCount(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()

	cfg := JobConfig{JobID: 1, CompletePath: filepath.Join(dir, "m1"), Description: "test job"}
	require.NoError(t, e.StartRecording(cfg))

	for i := 0; i < 5; i++ {
		e.OnFrame("topic/a", []byte("payload"), time.Now(), int64(i))
	}

	require.NoError(t, e.StopRecording())

	require.Eventually(t, func() bool {
		statuses := e.JobStatuses()
		return len(statuses) == 1 && statuses[0].State == StateFinishedFlushing && statuses[0].FrameCount == 5
	}, 2*time.Second, 20*time.Millisecond)
}

func TestPathCollisionRejected(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "m1")

	require.NoError(t, e.StartRecording(JobConfig{JobID: 42, CompletePath: path}))
	require.NoError(t, e.StopRecording())
	err := e.StartRecording(JobConfig{JobID: 44, CompletePath: path})
	require.Error(t, err)
}

func TestCannotStartTwoConcurrentRecordings(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()

	require.NoError(t, e.StartRecording(JobConfig{JobID: 1, CompletePath: filepath.Join(dir, "a")}))
	err := e.StartRecording(JobConfig{JobID: 2, CompletePath: filepath.Join(dir, "b")})
	require.Error(t, err)
}

func TestUploadRejectedWhileRecording(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()

	require.NoError(t, e.StartRecording(JobConfig{JobID: 7, CompletePath: filepath.Join(dir, "m")}))
	err := e.Upload(7, filepath.Join(dir, "remote"), false)
	require.Error(t, err)
}

func TestUploadCompletesAndDeletesAfter(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "m")
	dst := filepath.Join(dir, "remote")

	require.NoError(t, e.StartRecording(JobConfig{JobID: 8, CompletePath: src}))
	e.OnFrame("topic/a", []byte("payload"), time.Now(), 0)
	require.NoError(t, e.StopRecording())

	require.Eventually(t, func() bool {
		statuses := e.JobStatuses()
		return len(statuses) == 1 && statuses[0].State == StateFinishedFlushing
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, e.Upload(8, dst, true))

	require.Eventually(t, func() bool {
		statuses := e.JobStatuses()
		return len(statuses) == 1 && statuses[0].IsDeleted
	}, 2*time.Second, 20*time.Millisecond)

	_, err := os.Stat(src)
	require.True(t, os.IsNotExist(err), "expected measurement directory to be removed after delete-after-upload")
}

func TestTopicFilteringPureFunction(t *testing.T) {
	withPublisher := middleware.TopicInfo{Topic: "t1", Publishers: []middleware.PublisherInfo{{Host: "h1"}}}
	noPublisher := middleware.TopicInfo{Topic: "t2"}

	require.True(t, acceptsTopic(withPublisher, ModeAll, nil, nil))
	require.False(t, acceptsTopic(noPublisher, ModeAll, nil, nil))

	blacklist := map[string]bool{"t1": true}
	require.False(t, acceptsTopic(withPublisher, ModeBlacklist, blacklist, nil))

	whitelist := map[string]bool{"t1": true}
	require.True(t, acceptsTopic(withPublisher, ModeWhitelist, whitelist, nil))
	require.False(t, acceptsTopic(middleware.TopicInfo{Topic: "other", Publishers: withPublisher.Publishers}, ModeWhitelist, whitelist, nil))

	hostFilter := map[string]bool{"h2": true}
	require.False(t, acceptsTopic(withPublisher, ModeAll, nil, hostFilter))
}

func TestSetFilterRefusedWhileRecording(t *testing.T) {
	e := newTestEngine(t)
	dir := t.TempDir()
	require.NoError(t, e.StartRecording(JobConfig{JobID: 1, CompletePath: filepath.Join(dir, "a")}))

	err := e.SetRecordMode(ModeWhitelist)
	require.Error(t, err)
}
