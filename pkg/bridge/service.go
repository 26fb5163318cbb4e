package bridge

import (
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// Status of the bridge's OS service.
type Status string

const (
	StatusRunning      Status = "running"
	StatusStopped      Status = "stopped"
	StatusNotInstalled Status = "not_installed"
)

// DefaultServiceID returns the platform's service identifier for the
// bridge: a Windows service name, a systemd user unit, or a launchd label.
func DefaultServiceID() string {
	switch runtime.GOOS {
	case "windows":
		return "OpenControlBridge"
	case "darwin":
		return "com.petitechose.open-control-bridge"
	case "linux":
		return "open-control-bridge"
	default:
		return "oc-bridge"
	}
}

// ServiceStatus queries the service through the platform service manager.
func ServiceStatus(serviceID string) (Status, error) {
	switch runtime.GOOS {
	case "windows":
		out, code, err := runCapture("sc", "query", serviceID)
		if err != nil {
			return "", err
		}
		if code != 0 {
			// 1060: the specified service does not exist.
			if strings.Contains(out, "1060") {
				return StatusNotInstalled, nil
			}
			return "", fmt.Errorf("sc query %s: %s", serviceID, strings.TrimSpace(out))
		}
		switch scState(out) {
		case "1":
			return StatusStopped, nil
		case "4":
			return StatusRunning, nil
		default:
			return StatusStopped, nil
		}

	case "darwin":
		_, code, err := runCapture("launchctl", "list", serviceID)
		if err != nil {
			return "", err
		}
		if code != 0 {
			return StatusNotInstalled, nil
		}
		return StatusRunning, nil

	case "linux":
		out, code, err := runCapture("systemctl", "--user", "is-active", serviceID)
		if err != nil {
			return "", err
		}
		state := strings.TrimSpace(out)
		switch {
		case code == 0 && state == "active":
			return StatusRunning, nil
		case state == "inactive" || state == "failed":
			return StatusStopped, nil
		default:
			return StatusNotInstalled, nil
		}

	default:
		return StatusNotInstalled, nil
	}
}

func stopService(serviceID string, timeout time.Duration) error {
	switch runtime.GOOS {
	case "windows":
		if err := runChecked("sc", "stop", serviceID); err != nil {
			return err
		}
	case "darwin":
		if err := runChecked("launchctl", "stop", serviceID); err != nil {
			return err
		}
	case "linux":
		if err := runChecked("systemctl", "--user", "stop", serviceID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("no service manager on %s", runtime.GOOS)
	}
	return waitServiceStatus(serviceID, StatusStopped, timeout)
}

func startService(serviceID string, timeout time.Duration) error {
	switch runtime.GOOS {
	case "windows":
		if err := runChecked("sc", "start", serviceID); err != nil {
			return err
		}
	case "darwin":
		if err := runChecked("launchctl", "start", serviceID); err != nil {
			return err
		}
	case "linux":
		if err := runChecked("systemctl", "--user", "start", serviceID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("no service manager on %s", runtime.GOOS)
	}
	return waitServiceStatus(serviceID, StatusRunning, timeout)
}

func waitServiceStatus(serviceID string, want Status, timeout time.Duration) error {
	start := time.Now()
	for {
		status, err := ServiceStatus(serviceID)
		if err == nil && status == want {
			return nil
		}
		if time.Since(start) >= timeout {
			return fmt.Errorf("service %q did not reach state %q within %v", serviceID, want, timeout)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// scState extracts the numeric STATE value from `sc query` output.
func scState(out string) string {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "STATE") {
			continue
		}
		fields := strings.Fields(line)
		// "STATE : 4 RUNNING"
		for i, f := range fields {
			if f == ":" && i+1 < len(fields) {
				return fields[i+1]
			}
		}
	}
	return ""
}

func hintStopService(serviceID string) string {
	switch runtime.GOOS {
	case "windows":
		return "Try: sc stop " + serviceID
	case "darwin":
		return "Try: launchctl stop " + serviceID
	case "linux":
		return "Try: systemctl --user stop " + serviceID
	}
	return ""
}

func hintStartService(serviceID string) string {
	switch runtime.GOOS {
	case "windows":
		return "Try: sc start " + serviceID
	case "darwin":
		return "Try: launchctl start " + serviceID
	case "linux":
		return "Try: systemctl --user start " + serviceID
	}
	return ""
}

func hintQueryService(serviceID string) string {
	switch runtime.GOOS {
	case "windows":
		return "Try: sc query " + serviceID
	case "darwin":
		return "Try: launchctl list " + serviceID
	case "linux":
		return "Try: systemctl --user status " + serviceID
	}
	return ""
}

func runCapture(program string, args ...string) (string, int, error) {
	cmd := exec.Command(program, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return string(out), exitErr.ExitCode(), nil
		}
		return "", -1, fmt.Errorf("%s %s: %w", program, strings.Join(args, " "), err)
	}
	return string(out), 0, nil
}

func runChecked(program string, args ...string) error {
	out, code, err := runCapture(program, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%s %s: %s", program, strings.Join(args, " "), strings.TrimSpace(out))
	}
	return nil
}
