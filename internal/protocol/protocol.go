// Package protocol defines the JSON request/response exchange on a
// monitor's control socket. One request per connection: the client sends
// a single JSON line and reads a single JSON line back. This surface is
// how the CLI queries session stats and asks a monitor to stop.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"scribe/internal/orchestrator"
)

// Request types understood by a monitor's control socket.
const (
	TypeStatus = "status"
	TypeStop   = "stop"
)

// Request is a control request.
type Request struct {
	Type string `json:"type"`
}

// MonitorInfo describes a running monitor in a status response.
type MonitorInfo struct {
	ID        string    `json:"id"`
	ScopeDir  string    `json:"scopeDirectory"`
	OutputDir string    `json:"outputDirectory"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Uptime    string    `json:"uptime"`
}

// Response is a control response.
type Response struct {
	OK      bool                `json:"ok"`
	Error   string              `json:"error,omitempty"`
	Monitor *MonitorInfo        `json:"monitor,omitempty"`
	Stats   *orchestrator.Stats `json:"stats,omitempty"`
}

// SendRequest writes one request as a JSON line.
func SendRequest(w io.Writer, req *Request) error {
	return writeLine(w, req)
}

// ReadRequest reads one request line.
func ReadRequest(r io.Reader) (*Request, error) {
	var req Request
	if err := readLine(r, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SendResponse writes one response as a JSON line.
func SendResponse(w io.Writer, resp *Response) error {
	return writeLine(w, resp)
}

// ReadResponse reads one response line.
func ReadResponse(r io.Reader) (*Response, error) {
	var resp Response
	if err := readLine(r, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func readLine(r io.Reader, v any) error {
	line, err := bufio.NewReader(r).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return fmt.Errorf("read: %w", err)
	}
	return json.Unmarshal(line, v)
}
