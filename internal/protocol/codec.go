package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// EncodeRequest serializes a Request to a single wire line (spec §2/§6.1):
// function_name followed by alternating name/value tokens. Parameter order
// is irrelevant on the wire, but encoding sorts names for determinism.
func EncodeRequest(req Request) string {
	var b strings.Builder
	b.WriteString(req.FunctionName)

	names := make([]string, 0, len(req.Parameters))
	for name := range req.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteByte(' ')
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(req.Parameters[name].Encode())
	}
	return b.String()
}

// DecodeRequest decodes one request line against the known function
// descriptors. Decode failures never return an error value; they are
// reported as a Syntax_Error Response carrying a usage hint, per spec §4.C.
func DecodeRequest(line string, known map[string]FunctionDescriptor) (Request, *Response) {
	tokens, err := tokenize(line)
	if err != nil {
		resp := SyntaxErrorResponse(err.Error())
		return Request{}, &resp
	}

	if len(tokens) == 0 {
		resp := SyntaxErrorResponse("empty request")
		return Request{}, &resp
	}

	name := tokens[0]
	fd, ok := known[name]
	if !ok {
		resp := SyntaxErrorResponse(fmt.Sprintf("unknown function %q", name))
		return Request{}, &resp
	}

	rest := tokens[1:]
	if len(rest)%2 != 0 {
		resp := SyntaxErrorResponse(fmt.Sprintf("odd token count for function %q", name))
		return Request{}, &resp
	}

	params := make(map[string]Variant, len(rest)/2)
	for i := 0; i < len(rest); i += 2 {
		pname := rest[i]
		valTok := rest[i+1]

		kind, known := fd.MandatoryParameters[pname]
		if !known {
			resp := SyntaxErrorResponse(usageHint(fd, fmt.Sprintf("unknown parameter %q", pname)))
			return Request{}, &resp
		}
		if _, dup := params[pname]; dup {
			resp := SyntaxErrorResponse(usageHint(fd, fmt.Sprintf("duplicate parameter %q", pname)))
			return Request{}, &resp
		}
		v, err := ParseVariant(kind, valTok)
		if err != nil {
			resp := SyntaxErrorResponse(usageHint(fd, err.Error()))
			return Request{}, &resp
		}
		params[pname] = v
	}

	for pname := range fd.MandatoryParameters {
		if _, present := params[pname]; !present {
			resp := SyntaxErrorResponse(usageHint(fd, fmt.Sprintf("missing mandatory parameter %q", pname)))
			return Request{}, &resp
		}
	}

	return Request{FunctionName: name, Parameters: params}, nil
}

func usageHint(fd FunctionDescriptor, reason string) string {
	names := make([]string, 0, len(fd.MandatoryParameters))
	for name := range fd.MandatoryParameters {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s:%s", name, fd.MandatoryParameters[name]))
	}
	return fmt.Sprintf("%s; usage: %s %s", reason, fd.Name, strings.Join(parts, " "))
}

// EncodeResponse serializes a Response to its wire lines: zero or more
// leading-space result lines, followed by exactly one non-space-prefixed
// status line (spec §2/§6.1).
func EncodeResponse(resp Response) []string {
	lines := make([]string, 0, len(resp.Results)+1)
	for _, row := range resp.Results {
		lines = append(lines, " "+encodeRow(row))
	}
	lines = append(lines, fmt.Sprintf("%s %s", resp.Status, quoteString(resp.Message)))
	return lines
}

func encodeRow(row map[string]Variant) string {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
		b.WriteByte(' ')
		b.WriteString(row[name].Encode())
	}
	return b.String()
}

// DecodeResponse decodes the accumulated lines of a response (all result
// lines plus the final status line) against a FunctionDescriptor's
// mandatory results. The last element of lines must be the non-space
// status line; all preceding elements must carry the leading-space
// result-line prefix (spec §2 decoding rules).
func DecodeResponse(lines []string, fd FunctionDescriptor) (Response, error) {
	if len(lines) == 0 {
		return Response{}, &SyntaxError{Msg: "empty response"}
	}

	statusLine := lines[len(lines)-1]
	if strings.HasPrefix(statusLine, " ") {
		return Response{}, &SyntaxError{Msg: "missing status line"}
	}

	statusTokens, err := tokenize(statusLine)
	if err != nil {
		return Response{}, err
	}
	if len(statusTokens) != 2 {
		return Response{}, &SyntaxError{Msg: "malformed status line"}
	}
	status, ok := ParseStatus(statusTokens[0])
	if !ok {
		return Response{}, &SyntaxError{Msg: fmt.Sprintf("unknown status label %q", statusTokens[0])}
	}
	message := statusTokens[1]

	var results []map[string]Variant
	for _, rawLine := range lines[:len(lines)-1] {
		if !strings.HasPrefix(rawLine, " ") {
			return Response{}, &SyntaxError{Msg: "result line missing leading space"}
		}
		tokens, err := tokenize(rawLine)
		if err != nil {
			return Response{}, err
		}
		if len(tokens)%2 != 0 {
			return Response{}, &SyntaxError{Msg: "odd token count in result line"}
		}

		row := make(map[string]Variant, len(tokens)/2)
		for i := 0; i < len(tokens); i += 2 {
			name := tokens[i]
			kind, known := fd.MandatoryResults[name]
			if !known {
				return Response{}, &SyntaxError{Msg: fmt.Sprintf("unknown result field %q", name)}
			}
			v, err := ParseVariant(kind, tokens[i+1])
			if err != nil {
				return Response{}, err
			}
			row[name] = v
		}
		for name := range fd.MandatoryResults {
			if _, present := row[name]; !present {
				return Response{}, &SyntaxError{Msg: fmt.Sprintf("result row missing field %q", name)}
			}
		}
		results = append(results, row)
	}

	return Response{Status: status, Message: message, Results: results}, nil
}
