package protocol

// FunctionDescriptor declares the name, parameter types and result types
// of one add-on RPC function. Both sides of the wire share the exact same
// descriptors (spec §4.F function schema table).
type FunctionDescriptor struct {
	Name                string
	MandatoryParameters map[string]Kind
	MandatoryResults    map[string]Kind
}

// Status is the outcome of a processed Request.
type Status int

const (
	StatusOk Status = iota
	StatusFailed
	StatusSyntaxError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusFailed:
		return "Failed"
	case StatusSyntaxError:
		return "Syntax_Error"
	default:
		return "Failed"
	}
}

// ParseStatus decodes a status label. An unknown label is a decode failure
// (spec §4.B: "Unknown status label → decode failure").
func ParseStatus(label string) (Status, bool) {
	switch label {
	case "Ok":
		return StatusOk, true
	case "Failed":
		return StatusFailed, true
	case "Syntax_Error":
		return StatusSyntaxError, true
	default:
		return StatusFailed, false
	}
}

// Request is one function invocation: a name plus named parameters.
type Request struct {
	FunctionName string
	Parameters   map[string]Variant
}

// Response is zero or more result rows plus exactly one status line
// (spec §3 Request/Response).
type Response struct {
	Status  Status
	Message string
	Results []map[string]Variant
}

// Ok builds a successful Response, optionally carrying result rows.
func Ok(message string, results ...map[string]Variant) Response {
	return Response{Status: StatusOk, Message: message, Results: results}
}

// Failed builds a Failed Response.
func Failed(message string) Response {
	return Response{Status: StatusFailed, Message: message}
}

// SyntaxErrorResponse builds a Syntax_Error Response.
func SyntaxErrorResponse(message string) Response {
	return Response{Status: StatusSyntaxError, Message: message}
}

// Registered function names shared by both sides of the boundary
// (spec §4.F table).
const (
	FuncInfo                 = "info"
	FuncAPIVersion            = "api_version"
	FuncInitialize            = "initialize"
	FuncDeinitialize          = "deinitialize"
	FuncSetPrebufferLength    = "set_prebuffer_length"
	FuncEnablePrebuffering    = "enable_prebuffering"
	FuncDisablePrebuffering   = "disable_prebuffering"
	FuncPrebufferCount        = "prebuffer_count"
	FuncStartRecording        = "start_recording"
	FuncStopRecording         = "stop_recording"
	FuncSavePrebuffer         = "save_prebuffer"
	FuncJobStatuses           = "job_statuses"
)

// JobState string values used on the wire (spec §4.F).
const (
	JobStateNotStarted = "not started"
	JobStateRecording  = "recording"
	JobStateFlushing   = "flushing"
	JobStateFinished   = "finished"
)

// Descriptors returns the fixed set of FunctionDescriptors shared by the
// add-on client (response handler) and the add-on server (request
// handler). Both sides must use the exact same table.
func Descriptors() map[string]FunctionDescriptor {
	return map[string]FunctionDescriptor{
		FuncInfo: {
			Name: FuncInfo,
			MandatoryResults: map[string]Kind{
				"name": KindString, "id": KindString, "description": KindString,
			},
		},
		FuncAPIVersion: {
			Name:             FuncAPIVersion,
			MandatoryResults: map[string]Kind{"version": KindInt64},
		},
		FuncInitialize:   {Name: FuncInitialize},
		FuncDeinitialize: {Name: FuncDeinitialize},
		FuncSetPrebufferLength: {
			Name:                FuncSetPrebufferLength,
			MandatoryParameters: map[string]Kind{"duration": KindInt64},
		},
		FuncEnablePrebuffering:  {Name: FuncEnablePrebuffering},
		FuncDisablePrebuffering: {Name: FuncDisablePrebuffering},
		FuncPrebufferCount: {
			Name:             FuncPrebufferCount,
			MandatoryResults: map[string]Kind{"frame_count": KindInt64},
		},
		FuncStartRecording: {
			Name:                FuncStartRecording,
			MandatoryParameters: map[string]Kind{"id": KindInt64, "path": KindString},
		},
		FuncStopRecording: {
			Name:                FuncStopRecording,
			MandatoryParameters: map[string]Kind{"id": KindInt64},
		},
		FuncSavePrebuffer: {
			Name:                FuncSavePrebuffer,
			MandatoryParameters: map[string]Kind{"id": KindInt64, "path": KindString},
		},
		FuncJobStatuses: {
			Name: FuncJobStatuses,
			MandatoryResults: map[string]Kind{
				"id":                  KindInt64,
				"state":               KindString,
				"healthy":             KindBool,
				"status_description":  KindString,
				"frame_count":         KindInt64,
				"queue_count":         KindInt64,
			},
		},
	}
}
