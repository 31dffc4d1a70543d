package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuoteEscapeRoundTrip(t *testing.T) {
	// P9: decode_token(encode_string(s)) == s for arbitrary strings.
	cases := []string{
		"plain",
		`has "quotes"`,
		`has\backslash`,
		`C:\data\meas 1`,
		"",
		"  leading and trailing spaces  ",
	}
	for _, s := range cases {
		encoded := quoteString(s)
		tokens, err := tokenize(encoded)
		require.NoError(t, err)
		require.Len(t, tokens, 1)
		require.Equal(t, s, tokens[0])
	}
}

func TestTokenizeUnterminatedQuoteIsSyntaxError(t *testing.T) {
	_, err := tokenize(`start_recording path "unterminated`)
	require.Error(t, err)
}

func TestTokenizeInvalidEscapeIsSyntaxError(t *testing.T) {
	_, err := tokenize(`start_recording path "bad\nescape"`)
	require.Error(t, err)
}

func TestRequestRoundTrip(t *testing.T) {
	known := Descriptors()
	req := Request{
		FunctionName: FuncStartRecording,
		Parameters: map[string]Variant{
			"id":   Int64Variant(42),
			"path": StringVariant("/tmp/m1"),
		},
	}
	line := EncodeRequest(req)
	decoded, errResp := DecodeRequest(line, known)
	require.Nil(t, errResp)
	require.Equal(t, req.FunctionName, decoded.FunctionName)
	require.Len(t, decoded.Parameters, len(req.Parameters))
	for name, v := range req.Parameters {
		require.True(t, v.Equal(decoded.Parameters[name]))
	}
}

func TestProtocolEscapeWireExact(t *testing.T) {
	// E6: sending start_recording with a path containing a literal
	// backslash must place doubled backslashes on the wire.
	req := Request{
		FunctionName: FuncStartRecording,
		Parameters: map[string]Variant{
			"id":   Int64Variant(42),
			"path": StringVariant(`C:\data\meas 1`),
		},
	}
	line := EncodeRequest(req)
	require.Equal(t, `start_recording id 42 path "C:\\data\\meas 1"`, line)

	decoded, errResp := DecodeRequest(line, Descriptors())
	require.Nil(t, errResp)
	path, _ := decoded.Parameters["path"].Str()
	require.Equal(t, `C:\data\meas 1`, path)
}

func TestResponseRoundTrip(t *testing.T) {
	fd := Descriptors()[FuncJobStatuses]
	resp := Ok("", map[string]Variant{
		"id":                 Int64Variant(42),
		"state":              StringVariant(JobStateRecording),
		"healthy":            BoolVariant(true),
		"status_description": StringVariant(""),
		"frame_count":        Int64Variant(150),
		"queue_count":        Int64Variant(2),
	})
	lines := EncodeResponse(resp)
	decoded, err := DecodeResponse(lines, fd)
	require.NoError(t, err)
	require.Equal(t, StatusOk, decoded.Status)
	require.Len(t, decoded.Results, 1)
	for name, v := range resp.Results[0] {
		require.True(t, v.Equal(decoded.Results[0][name]), name)
	}
}

func TestDecodeRequestUnknownFunction(t *testing.T) {
	_, errResp := DecodeRequest("frobnicate", Descriptors())
	require.NotNil(t, errResp)
	require.Equal(t, StatusSyntaxError, errResp.Status)
}

func TestDecodeRequestMissingMandatoryParameter(t *testing.T) {
	_, errResp := DecodeRequest(`start_recording id 42`, Descriptors())
	require.NotNil(t, errResp)
	require.Equal(t, StatusSyntaxError, errResp.Status)
	require.Contains(t, errResp.Message, "path")
}

func TestDecodeRequestOddTokenCount(t *testing.T) {
	_, errResp := DecodeRequest(`start_recording id`, Descriptors())
	require.NotNil(t, errResp)
	require.Equal(t, StatusSyntaxError, errResp.Status)
}

func TestDecodeResponseUnknownStatus(t *testing.T) {
	_, err := DecodeResponse([]string{`Maybe "huh"`}, Descriptors()[FuncInfo])
	require.Error(t, err)
}

func TestBoolAlternateSpellings(t *testing.T) {
	for _, tok := range []string{"true", "1", "on"} {
		v, err := ParseVariant(KindBool, tok)
		require.NoError(t, err)
		b, _ := v.Bool()
		require.True(t, b)
	}
	for _, tok := range []string{"false", "0", "off"} {
		v, err := ParseVariant(KindBool, tok)
		require.NoError(t, err)
		b, _ := v.Bool()
		require.False(t, b)
	}
}
