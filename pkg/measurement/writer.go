// Package measurement writes recorded frames to disk as a directory of
// newline-delimited JSON files, one per channel, alongside the
// metadata/support files a measurement directory carries (spec §6.2).
// Frame payloads are opaque to this package: it never interprets the
// bytes it is given, only stores and replays them.
package measurement

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// entry is the on-disk representation of one recorded frame.
type entry struct {
	Topic          string `json:"topic"`
	PublishTimeNS  int64  `json:"publish_time_ns"`
	ReceiveTimeNS  int64  `json:"receive_time_ns"`
	PublisherClock int64  `json:"publisher_clock"`
	PayloadB64     string `json:"payload"`
}

// ChannelMeta is descriptive, non-payload information about one recorded
// channel (e.g. a middleware-reported type/encoding string).
type ChannelMeta struct {
	Topic       string            `json:"topic"`
	TypeName    string            `json:"type_name,omitempty"`
	Description string            `json:"description,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Writer persists entries for one measurement directory, one file per
// topic (spec §6.2 "Directory layout"). It is safe for concurrent use by
// multiple callers adding entries for different topics; callers must not
// call AddEntry after Close.
type Writer struct {
	dir string

	mu    sync.Mutex
	files map[string]*channelFile
	meta  map[string]ChannelMeta
}

type channelFile struct {
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// Open creates dir (and its parents) and returns a Writer rooted there.
// dir must not already contain recorded entries; spec §4.J requires a
// fresh, empty measurement directory per job.
func Open(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("measurement: create dir: %w", err)
	}
	return &Writer{
		dir:   dir,
		files: make(map[string]*channelFile),
		meta:  make(map[string]ChannelMeta),
	}, nil
}

// SetChannelMeta records descriptive metadata for topic, flushed to
// channels.json on Close.
func (w *Writer) SetChannelMeta(meta ChannelMeta) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.meta[meta.Topic] = meta
}

// AddEntry appends one recorded frame to its topic's file, opening the
// file on first use.
func (w *Writer) AddEntry(topic string, publishTime, receiveTime time.Time, publisherClock int64, payload []byte) error {
	w.mu.Lock()
	cf, ok := w.files[topic]
	if !ok {
		var err error
		cf, err = w.openChannelFile(topic)
		if err != nil {
			w.mu.Unlock()
			return err
		}
		w.files[topic] = cf
	}
	w.mu.Unlock()

	return cf.enc.Encode(entry{
		Topic:          topic,
		PublishTimeNS:  publishTime.UnixNano(),
		ReceiveTimeNS:  receiveTime.UnixNano(),
		PublisherClock: publisherClock,
		PayloadB64:     base64.StdEncoding.EncodeToString(payload),
	})
}

func (w *Writer) openChannelFile(topic string) (*channelFile, error) {
	path := filepath.Join(w.dir, sanitizeChannelName(topic)+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("measurement: open channel file: %w", err)
	}
	buf := bufio.NewWriter(f)
	return &channelFile{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

func sanitizeChannelName(topic string) string {
	out := make([]rune, 0, len(topic))
	for _, r := range topic {
		switch {
		case r == '/' || r == '\\' || r == ':':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// Close flushes and closes every open channel file plus the channel
// metadata sidecar file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for _, cf := range w.files {
		if err := cf.buf.Flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	metaPath := filepath.Join(w.dir, "channels.json")
	data, err := json.MarshalIndent(w.meta, "", "  ")
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	if err := os.WriteFile(metaPath, data, 0o644); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
