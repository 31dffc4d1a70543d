// Command rec-addon-demo is a sample add-on subprocess: it speaks the same
// stdio wire protocol rec-agent drives every real add-on over, so it can be
// pointed at by ECAL_REC_ADDON_PATH for manual or end-to-end exercise of
// the add-on boundary without a real recording backend behind it.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/otus-rec/rec-agent/internal/addon"
	"github.com/otus-rec/rec-agent/internal/protocol"
)

// eot mirrors the End-Of-Transmission byte rec-agent writes to an add-on's
// stdin to request a clean shutdown (internal/addon.Pipe.RequestShutdown).
const eot = 0x1C

func main() {
	id := flag.String("id", "rec-addon-demo", "add-on id reported to info")
	name := flag.String("name", "Demo Recorder", "add-on name reported to info")
	frameInterval := flag.Duration("frame-interval", 50*time.Millisecond, "synthetic frame generation interval")
	flag.Parse()

	rec := newDemoRecorder(*id, *name)
	stop := rec.startFrameGenerator(*frameInterval)
	defer stop()

	if err := serve(rec); err != nil {
		slog.Error("rec-addon-demo exited with error", "error", err)
		os.Exit(1)
	}
}

// serve reads request lines from stdin and writes encoded responses to
// stdout until it sees an EOT byte or stdin closes, mirroring the
// IOStreamServer loop this protocol was modeled on.
func serve(rec *demoRecorder) error {
	reader := bufio.NewScanner(os.Stdin)
	reader.Split(splitOnNewlineOrEOT)
	writer := bufio.NewWriter(os.Stdout)

	dispatcher := addon.DispatcherFunc(rec.Dispatch)
	known := protocol.Descriptors()

	for reader.Scan() {
		line := reader.Text()
		if line == "" {
			// A bare EOT with no preceding request line: shut down
			// without replying, same as a real add-on would.
			return nil
		}
		if err := addon.ServeRequestLine(line, known, dispatcher, writer); err != nil {
			return fmt.Errorf("rec-addon-demo: serve request line: %w", err)
		}
	}
	return reader.Err()
}

// splitOnNewlineOrEOT behaves like bufio.ScanLines but also terminates a
// token at a bare EOT byte, so a shutdown request doesn't block waiting
// for a trailing newline that will never come.
func splitOnNewlineOrEOT(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	nl := bytes.IndexByte(data, '\n')
	e := bytes.IndexByte(data, eot)
	switch {
	case nl >= 0 && (e < 0 || nl < e):
		return nl + 1, dropCR(data[:nl]), nil
	case e >= 0:
		return e + 1, data[:e], nil
	}
	if atEOF {
		return len(data), dropCR(data), nil
	}
	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}
