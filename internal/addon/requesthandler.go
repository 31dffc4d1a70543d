// Package addon implements the client side of the add-on subprocess
// boundary: spawning, handshaking, health-polling and driving the
// stdio request/response protocol described in package protocol.
package addon

import (
	"bufio"

	"github.com/otus-rec/rec-agent/internal/protocol"
)

// Dispatcher is implemented by add-on authors (or, here, by the sample
// rec-addon-demo binary): it services one decoded Request and returns the
// Response to send back.
type Dispatcher interface {
	Dispatch(req protocol.Request) protocol.Response
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(protocol.Request) protocol.Response

func (f DispatcherFunc) Dispatch(req protocol.Request) protocol.Response {
	return f(req)
}

// ServeRequestLine services one request line on the add-on side: one
// request line in, one multi-line response out. It decodes line against
// known and, on success, dispatches it to d; a decode failure is answered
// with the decoder's Syntax_Error response instead. Every encoded response
// line (result rows, however many the function produced, then the status
// line) is written to w followed by a newline, and w is flushed.
func ServeRequestLine(line string, known map[string]protocol.FunctionDescriptor, d Dispatcher, w *bufio.Writer) error {
	req, errResp := protocol.DecodeRequest(line, known)
	var resp protocol.Response
	if errResp != nil {
		resp = *errResp
	} else {
		resp = d.Dispatch(req)
	}

	for _, respLine := range protocol.EncodeResponse(resp) {
		if _, err := w.WriteString(respLine); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
