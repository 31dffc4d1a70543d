package upload

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// FakeUploader is a stand-in Uploader that copies a measurement directory
// tree onto the local filesystem under Destination, walking files in a
// background goroutine and reporting progress as it goes. It stands in
// for the real FTP transfer, which spec §1 treats as an opaque external
// collaborator.
type FakeUploader struct{}

// NewFake returns an Uploader that performs a local filesystem copy.
func NewFake() *FakeUploader { return &FakeUploader{} }

func (u *FakeUploader) Start(cfg Config) (Worker, error) {
	entries, err := collectFiles(cfg.CompletePath, cfg.SkipMetadataFiles)
	if err != nil {
		return nil, err
	}

	w := &fakeWorker{
		status: Status{FilesTotal: len(entries), Healthy: true},
		cancel: make(chan struct{}),
	}
	var total int64
	for _, e := range entries {
		total += e.size
	}
	w.status.BytesTotal = total

	go w.run(cfg, entries)
	return w, nil
}

type fileEntry struct {
	relPath string
	size    int64
}

func collectFiles(root string, skip []string) ([]fileEntry, error) {
	skipSet := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipSet[s] = true
	}

	var out []fileEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if skipSet[rel] {
			return nil
		}
		out = append(out, fileEntry{relPath: rel, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fakeWorker copies files one at a time, updating its status snapshot as
// it goes, so callers polling Status see monotonically increasing
// progress until Exited reports true.
type fakeWorker struct {
	mu         sync.Mutex
	status     Status
	exited     int32
	cancel     chan struct{}
	cancelOnce sync.Once
}

func (w *fakeWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *fakeWorker) Exited() bool {
	return atomic.LoadInt32(&w.exited) == 1
}

func (w *fakeWorker) Cancel() {
	w.cancelOnce.Do(func() {
		if w.cancel != nil {
			close(w.cancel)
		}
	})
}

func (w *fakeWorker) run(cfg Config, entries []fileEntry) {
	defer atomic.StoreInt32(&w.exited, 1)

	for _, e := range entries {
		select {
		case <-w.cancel:
			w.mu.Lock()
			w.status.Message = "cancelled"
			w.mu.Unlock()
			return
		default:
		}

		if err := copyFile(cfg.CompletePath, cfg.Destination, e.relPath); err != nil {
			w.mu.Lock()
			w.status.Healthy = false
			w.status.Message = err.Error()
			w.mu.Unlock()
			return
		}

		w.mu.Lock()
		w.status.FilesUploaded++
		w.status.BytesSent += e.size
		w.mu.Unlock()
	}
}

func copyFile(srcRoot, dstRoot, rel string) error {
	dst := filepath.Join(dstRoot, rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	src, err := os.Open(filepath.Join(srcRoot, rel))
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
