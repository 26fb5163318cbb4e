package bridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// The bridge control protocol is one JSON request line and one JSON
// response line over a loopback TCP connection. Private convention with
// oc-bridge, not a public API.

// ControlStatus is the bridge's answer to a status probe.
type ControlStatus struct {
	OK         bool    `json:"ok"`
	Paused     bool    `json:"paused"`
	SerialOpen *bool   `json:"serial_open,omitempty"`
	Message    *string `json:"message,omitempty"`
}

// QueryControlStatus asks the bridge for its current state.
func QueryControlStatus(port int, timeout time.Duration) (ControlStatus, error) {
	return controlSend(port, "status", timeout)
}

func controlPause(port int, timeout time.Duration) error {
	resp, err := controlSend(port, "pause", timeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("bridge pause (port %d): %s", port, respMessage(resp))
	}
	if !resp.Paused {
		return fmt.Errorf("bridge pause (port %d): bridge did not enter paused state", port)
	}
	if resp.SerialOpen != nil && *resp.SerialOpen {
		return fmt.Errorf("bridge pause (port %d): bridge reports serial_open=true after pause", port)
	}
	return nil
}

func controlResume(port int, timeout time.Duration) error {
	resp, err := controlSend(port, "resume", timeout)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("bridge resume (port %d): %s", port, respMessage(resp))
	}
	if resp.Paused {
		return fmt.Errorf("bridge resume (port %d): bridge still paused after resume", port)
	}
	return nil
}

func respMessage(resp ControlStatus) string {
	if resp.Message != nil && *resp.Message != "" {
		return *resp.Message
	}
	return "unknown error"
}

func controlSend(port int, cmd string, timeout time.Duration) (ControlStatus, error) {
	var status ControlStatus

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return status, fmt.Errorf("bridge control connect (%s): %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	conn.SetDeadline(deadline)

	req, _ := json.Marshal(map[string]string{"cmd": cmd})
	if _, err := conn.Write(append(req, '\n')); err != nil {
		return status, fmt.Errorf("bridge control write (%s): %w", addr, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return status, fmt.Errorf("bridge control read (%s): %w", addr, err)
	}
	if err := json.Unmarshal(line, &status); err != nil {
		return status, fmt.Errorf("bridge control response (%s): %w", addr, err)
	}
	return status, nil
}
