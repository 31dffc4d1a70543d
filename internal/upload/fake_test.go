package upload

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeUploaderCopiesFilesAndSkipsMetadata(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "m1")
	dst := filepath.Join(dir, "remote")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "host"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "host", "data.jsonl"), []byte("hello"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "doc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "doc", "description.txt"), []byte("desc"), 0o644))

	u := NewFake()
	w, err := u.Start(Config{
		CompletePath:      src,
		Destination:       dst,
		SkipMetadataFiles: []string{filepath.Join("doc", "description.txt")},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return w.Exited() }, 2*time.Second, 10*time.Millisecond)

	status := w.Status()
	require.True(t, status.Healthy)
	require.Equal(t, 1, status.FilesUploaded)

	_, err = os.Stat(filepath.Join(dst, "host", "data.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dst, "doc", "description.txt"))
	require.True(t, os.IsNotExist(err), "metadata file should have been skipped")
}
