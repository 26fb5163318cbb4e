package bridge

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeBridge answers one control request per connection with a canned
// JSON line.
func fakeBridge(t *testing.T, responses map[string]string) (port int, done func()) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				for cmd, resp := range responses {
					if strings.Contains(line, `"cmd":"`+cmd+`"`) {
						c.Write([]byte(resp + "\n"))
						return
					}
				}
				c.Write([]byte(`{"ok":false,"paused":false,"message":"unknown cmd"}` + "\n"))
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port, func() { ln.Close() }
}

func TestControlPauseSucceeds(t *testing.T) {
	port, done := fakeBridge(t, map[string]string{
		"pause": `{"ok":true,"paused":true,"serial_open":false}`,
	})
	defer done()

	if err := controlPause(port, time.Second); err != nil {
		t.Errorf("controlPause() error = %v, want nil", err)
	}
}

func TestControlPauseRejectsNotPaused(t *testing.T) {
	port, done := fakeBridge(t, map[string]string{
		"pause": `{"ok":true,"paused":false}`,
	})
	defer done()

	if err := controlPause(port, time.Second); err == nil {
		t.Error("controlPause() error = nil, want error when bridge did not pause")
	}
}

func TestControlPauseRejectsSerialStillOpen(t *testing.T) {
	port, done := fakeBridge(t, map[string]string{
		"pause": `{"ok":true,"paused":true,"serial_open":true}`,
	})
	defer done()

	if err := controlPause(port, time.Second); err == nil {
		t.Error("controlPause() error = nil, want error when serial port stays open")
	}
}

func TestControlResumeSucceeds(t *testing.T) {
	port, done := fakeBridge(t, map[string]string{
		"resume": `{"ok":true,"paused":false}`,
	})
	defer done()

	if err := controlResume(port, time.Second); err != nil {
		t.Errorf("controlResume() error = %v, want nil", err)
	}
}

func TestQueryControlStatus(t *testing.T) {
	port, done := fakeBridge(t, map[string]string{
		"status": `{"ok":true,"paused":true,"serial_open":false,"message":"paused by loader"}`,
	})
	defer done()

	st, err := QueryControlStatus(port, time.Second)
	if err != nil {
		t.Fatalf("QueryControlStatus() error = %v", err)
	}
	if !st.OK || !st.Paused {
		t.Errorf("status = %+v, want ok and paused", st)
	}
	if st.SerialOpen == nil || *st.SerialOpen {
		t.Error("SerialOpen = nil or true, want false")
	}
	if st.Message == nil || *st.Message != "paused by loader" {
		t.Errorf("Message = %v, want %q", st.Message, "paused by loader")
	}
}

func TestControlSendConnectFailure(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	if _, err := QueryControlStatus(port, 200*time.Millisecond); err == nil {
		t.Error("QueryControlStatus() error = nil, want connect error")
	}
}

func TestPauseBridgeDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.Enabled = false

	p := PauseBridge(opts)
	if p.Guard != nil {
		t.Error("Guard != nil for disabled bridge control")
	}
	if p.SkipReason != SkipDisabled {
		t.Errorf("SkipReason = %q, want %q", p.SkipReason, SkipDisabled)
	}
}

func TestPauseBridgeViaControl(t *testing.T) {
	port, done := fakeBridge(t, map[string]string{
		"pause":  `{"ok":true,"paused":true,"serial_open":false}`,
		"resume": `{"ok":true,"paused":false}`,
	})
	defer done()

	opts := DefaultOptions()
	opts.ControlPort = port
	opts.ControlTimeout = time.Second

	p := PauseBridge(opts)
	if p.Guard == nil {
		t.Fatalf("Guard = nil, outcome: skip=%q err=%+v", p.SkipReason, p.Err)
	}
	if p.Info == nil || p.Info.Method != MethodControl {
		t.Fatalf("Info = %+v, want control method", p.Info)
	}

	if err := p.Guard.Resume(); err != nil {
		t.Errorf("Resume() error = %v", err)
	}
	// Second resume is a no-op.
	if err := p.Guard.Resume(); err != nil {
		t.Errorf("second Resume() error = %v", err)
	}
}

func TestScState(t *testing.T) {
	out := "\nSERVICE_NAME: OpenControlBridge\n        TYPE               : 10  WIN32_OWN_PROCESS\n        STATE              : 4  RUNNING\n"
	if got := scState(out); got != "4" {
		t.Errorf("scState() = %q, want %q", got, "4")
	}
}
