package main

import (
	"time"

	"github.com/otus-rec/rec-agent/internal/protocol"
)

// Dispatch implements addon.Dispatcher: it services one decoded request
// against the demo recorder's state machine and encodes the result the
// same way main.cpp's function_descriptor callbacks do in original_source.
func (r *demoRecorder) Dispatch(req protocol.Request) protocol.Response {
	switch req.FunctionName {
	case protocol.FuncInfo:
		return protocol.Ok("", map[string]protocol.Variant{
			"id":          protocol.StringVariant(r.id),
			"name":        protocol.StringVariant(r.name),
			"description": protocol.StringVariant(r.description),
		})

	case protocol.FuncAPIVersion:
		return protocol.Ok("", map[string]protocol.Variant{
			"version": protocol.Int64Variant(1),
		})

	case protocol.FuncInitialize:
		return boolResponse(r.Initialize(), r.lastStatus)

	case protocol.FuncDeinitialize:
		return boolResponse(r.Deinitialize(), r.lastStatus)

	case protocol.FuncSetPrebufferLength:
		duration, _ := req.Parameters["duration"].Int64()
		return boolResponse(r.SetPrebufferLength(time.Duration(duration)*time.Millisecond), r.lastStatus)

	case protocol.FuncEnablePrebuffering:
		return boolResponse(r.EnablePrebuffering(), r.lastStatus)

	case protocol.FuncDisablePrebuffering:
		return boolResponse(r.DisablePrebuffering(), r.lastStatus)

	case protocol.FuncPrebufferCount:
		return protocol.Ok("", map[string]protocol.Variant{
			"frame_count": protocol.Int64Variant(r.PrebufferFrameCount()),
		})

	case protocol.FuncStartRecording:
		id, _ := req.Parameters["id"].Int64()
		path, _ := req.Parameters["path"].Str()
		return boolResponse(r.StartRecording(id, path), r.lastStatus)

	case protocol.FuncStopRecording:
		id, _ := req.Parameters["id"].Int64()
		return boolResponse(r.StopRecording(id), r.lastStatus)

	case protocol.FuncSavePrebuffer:
		id, _ := req.Parameters["id"].Int64()
		path, _ := req.Parameters["path"].Str()
		return boolResponse(r.SavePrebuffer(id, path), r.lastStatus)

	case protocol.FuncJobStatuses:
		statuses := r.JobStatuses()
		results := make([]map[string]protocol.Variant, len(statuses))
		for i, s := range statuses {
			results[i] = map[string]protocol.Variant{
				"id":                 protocol.Int64Variant(s.jobID),
				"state":              protocol.StringVariant(s.state),
				"healthy":            protocol.BoolVariant(s.healthy),
				"status_description": protocol.StringVariant(s.description),
				"frame_count":        protocol.Int64Variant(s.frameCount),
				"queue_count":        protocol.Int64Variant(s.queueCount),
			}
		}
		return protocol.Ok("", results...)

	default:
		return protocol.Failed("unknown function " + req.FunctionName)
	}
}

func boolResponse(ok bool, message string) protocol.Response {
	if ok {
		return protocol.Ok(message)
	}
	return protocol.Failed(message)
}
