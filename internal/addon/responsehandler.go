package addon

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/otus-rec/rec-agent/internal/protocol"
)

// lineWriter and lineReader abstract the transport so the response handler
// can be tested without a real subprocess (spec §4.D: the response handler
// is defined purely in terms of injected write_line/read_line callbacks).
type lineWriter func(line string) error
type lineReader func() (string, error)

// Query sends req over write, then reads response lines via read until it
// sees the unindented status line, decoding the whole thing against fd.
func Query(req protocol.Request, fd protocol.FunctionDescriptor, write lineWriter, read lineReader) (protocol.Response, error) {
	if err := write(protocol.EncodeRequest(req)); err != nil {
		return protocol.Response{}, fmt.Errorf("addon: write request: %w", err)
	}

	var lines []string
	for {
		line, err := read()
		if err != nil {
			return protocol.Response{}, fmt.Errorf("addon: read response: %w", err)
		}
		lines = append(lines, line)
		if !strings.HasPrefix(line, " ") {
			break
		}
	}

	return protocol.DecodeResponse(lines, fd)
}

// scannerReader adapts a *bufio.Scanner to lineReader.
func scannerReader(sc *bufio.Scanner) lineReader {
	return func() (string, error) {
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("addon: stream closed before status line")
		}
		return sc.Text(), nil
	}
}

// writerLine adapts a *bufio.Writer to lineWriter.
func writerLine(w *bufio.Writer) lineWriter {
	return func(line string) error {
		if _, err := w.WriteString(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
		return w.Flush()
	}
}
