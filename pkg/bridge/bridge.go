// Package bridge coordinates with the oc-bridge companion process that may
// hold the Teensy serial port while the flasher needs it. Pausing is best
// effort: the preferred mechanism is the bridge's loopback IPC; stopping
// the OS service it runs under is the fallback. Resume always reverses
// exactly the mechanism that succeeded.
package bridge

import (
	"fmt"
	"time"
)

// Options configures the pause/resume bracket.
type Options struct {
	// Enabled turns the automatic pause/resume on.
	Enabled bool

	// ServiceID overrides the OS service identifier. Empty picks the
	// platform default.
	ServiceID string

	// Timeout bounds service stop/start.
	Timeout time.Duration

	// ControlPort is the bridge's loopback IPC port.
	ControlPort int

	// ControlTimeout bounds one IPC round trip. The bridge's pause waits
	// for the serial port to actually close before acking, so this covers
	// that.
	ControlTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Enabled:        true,
		Timeout:        5 * time.Second,
		ControlPort:    7999,
		ControlTimeout: 2500 * time.Millisecond,
	}
}

// Method identifies which pause mechanism succeeded.
type Method string

const (
	MethodControl Method = "control"
	MethodService Method = "service"
)

// SkipReason explains a pause that was not needed or not possible.
type SkipReason string

const (
	SkipDisabled       SkipReason = "disabled"
	SkipNotRunning     SkipReason = "not_running"
	SkipNotInstalled   SkipReason = "not_installed"
	SkipNotRestartable SkipReason = "process_not_restartable"
)

// PauseInfo records the successful mechanism for reporting and reversal.
type PauseInfo struct {
	Method Method `json:"method"`
	ID     string `json:"id"`
}

// ErrorInfo carries a pause/resume failure with a remediation hint.
type ErrorInfo struct {
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// Pause is the outcome of one pause attempt. Exactly one of Info,
// SkipReason or Err is meaningful; Guard is non-nil only when a pause
// actually happened.
type Pause struct {
	Guard      *Guard
	Info       *PauseInfo
	SkipReason SkipReason
	Err        *ErrorInfo
}

// Guard undoes a successful pause. Resume may be called repeatedly; it
// clears its plan after the first success so later calls are no-ops.
type Guard struct {
	method  Method
	id      string
	opts    Options
	resumed bool
}

// ResumeHint suggests the manual command matching this guard's mechanism.
func (g *Guard) ResumeHint() string {
	switch g.method {
	case MethodControl:
		return fmt.Sprintf("Try: oc-bridge ctl resume --control-port %d", g.opts.ControlPort)
	case MethodService:
		return hintStartService(g.id)
	}
	return ""
}

// Resume reverses the pause using the mechanism that succeeded.
func (g *Guard) Resume() error {
	if g.resumed {
		return nil
	}
	var err error
	switch g.method {
	case MethodControl:
		err = controlResume(g.opts.ControlPort, g.opts.ControlTimeout)
	case MethodService:
		err = startService(g.id, g.opts.Timeout)
	}
	if err != nil {
		return err
	}
	g.resumed = true
	return nil
}

// PauseBridge tries the mechanisms in order: IPC first, then the OS
// service. Neither succeeding is a skip, not a failure, unless the service
// layer errored in a way we refuse to guess past.
func PauseBridge(opts Options) Pause {
	if !opts.Enabled {
		return Pause{SkipReason: SkipDisabled}
	}

	serviceID := opts.ServiceID
	if serviceID == "" {
		serviceID = DefaultServiceID()
	}

	if err := controlPause(opts.ControlPort, opts.ControlTimeout); err == nil {
		info := &PauseInfo{
			Method: MethodControl,
			ID:     fmt.Sprintf("127.0.0.1:%d", opts.ControlPort),
		}
		return Pause{
			Guard: &Guard{method: MethodControl, opts: opts},
			Info:  info,
		}
	}

	status, err := ServiceStatus(serviceID)
	if err != nil {
		// Fail safe: if we cannot even query the service, report instead
		// of guessing.
		return Pause{Err: &ErrorInfo{
			Message: fmt.Sprintf("unable to query bridge service %q: %v", serviceID, err),
			Hint:    hintQueryService(serviceID),
		}}
	}

	switch status {
	case StatusRunning:
		if err := stopService(serviceID, opts.Timeout); err != nil {
			return Pause{Err: &ErrorInfo{
				Message: fmt.Sprintf("unable to stop bridge service %q: %v", serviceID, err),
				Hint:    hintStopService(serviceID),
			}}
		}
		return Pause{
			Guard: &Guard{method: MethodService, id: serviceID, opts: opts},
			Info:  &PauseInfo{Method: MethodService, ID: serviceID},
		}
	case StatusStopped:
		return Pause{SkipReason: SkipNotRunning}
	default:
		// Not installed as a service, and we do not stop or relaunch bare
		// processes we did not start.
		return Pause{SkipReason: SkipNotRestartable}
	}
}
