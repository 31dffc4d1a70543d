// Package command implements command channels.
package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is a JSON-RPC client over Unix Domain Socket.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a new UDS client.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second // Default timeout
	}
	return &UDSClient{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Call sends a command and waits for response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	// Create connection with timeout
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	// Set deadline
	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	// Marshal params
	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = data
	}

	// Create JSON-RPC request
	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano()) // Use string ID
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	// Send request
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	// Read response
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	// Parse JSON-RPC response
	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Verify response ID matches (convert both to string for comparison)
	respIDStr := fmt.Sprintf("%v", jsonrpcResp.ID)
	if respIDStr != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respIDStr)
	}

	// Convert to internal Response format
	resp := &Response{
		ID:     fmt.Sprintf("%v", jsonrpcResp.ID),
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}

	return resp, nil
}

// RecordStart is a convenience method for the record.start command.
func (c *UDSClient) RecordStart(ctx context.Context, params RecordStartParams) (*Response, error) {
	return c.Call(ctx, "record.start", params)
}

// RecordStop is a convenience method for the record.stop command.
func (c *UDSClient) RecordStop(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "record.stop", nil)
}

// RecordSavePrebuffer is a convenience method for the record.save_prebuffer command.
func (c *UDSClient) RecordSavePrebuffer(ctx context.Context, params RecordStartParams) (*Response, error) {
	return c.Call(ctx, "record.save_prebuffer", params)
}

// RecordStatus is a convenience method for the record.status command.
func (c *UDSClient) RecordStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "record.status", nil)
}

// RecordDelete is a convenience method for the record.delete command.
func (c *UDSClient) RecordDelete(ctx context.Context, jobID int64) (*Response, error) {
	return c.Call(ctx, "record.delete", DeleteMeasurementParams{JobID: jobID})
}

// RecordUpload is a convenience method for the record.upload command.
func (c *UDSClient) RecordUpload(ctx context.Context, params UploadParams) (*Response, error) {
	return c.Call(ctx, "record.upload", params)
}

// AddonList is a convenience method for the addon.list command.
func (c *UDSClient) AddonList(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "addon.list", nil)
}

// ConfigReload is a convenience method for the config.reload command.
func (c *UDSClient) ConfigReload(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "config.reload", nil)
}

// DaemonStatus is a convenience method for the daemon.status command.
func (c *UDSClient) DaemonStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon.status", nil)
}

// DaemonShutdown is a convenience method for the daemon.shutdown command.
func (c *UDSClient) DaemonShutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "daemon.shutdown", nil)
}

// Ping sends a simple command to check if the daemon is alive. It is a
// convenience wrapper around daemon.status.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.DaemonStatus(ctx)
	return err
}
