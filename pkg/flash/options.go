package flash

import (
	"time"

	"github.com/petitechose/midi-studio-loader/pkg/bridge"
)

// Selection names which targets an operation acts on. The zero value is
// automatic selection.
type Selection struct {
	// All acts on every discovered target in order.
	All bool

	// Device is a selector string (see target.ParseSelector). Empty means
	// automatic selection.
	Device string
}

// Options configures a flash operation.
type Options struct {
	// Wait keeps polling discovery until a target shows up.
	Wait bool

	// WaitTimeout bounds the discovery wait. Zero means wait forever.
	WaitTimeout time.Duration

	// Retries is the per-block retry budget after the first attempt.
	Retries int

	// NoReboot skips the boot command after the last block.
	NoReboot bool

	// SerialPort prefers this port during automatic selection when several
	// serial targets are present.
	SerialPort string

	// Bridge configures the serial-bridge pause bracket around serial
	// targets.
	Bridge bridge.Options

	// Timing knobs. The defaults suit real hardware; tests shrink them.
	PollInterval    time.Duration // discovery wait poll
	AppearPoll      time.Duration // post-reboot bootloader poll
	AppearTimeout   time.Duration // post-reboot bootloader wait
	SoftRebootDelay time.Duration // settle after the reboot trigger
	ReopenDelay     time.Duration // pause before a retry reopen
	ReopenTimeout   time.Duration // bound on reopening after a failure
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Retries:         3,
		Bridge:          bridge.DefaultOptions(),
		PollInterval:    250 * time.Millisecond,
		AppearPoll:      50 * time.Millisecond,
		AppearTimeout:   60 * time.Second,
		SoftRebootDelay: 250 * time.Millisecond,
		ReopenDelay:     150 * time.Millisecond,
		ReopenTimeout:   10 * time.Second,
	}
}

// RebootOptions configures a reboot-only operation.
type RebootOptions struct {
	SerialPort string
	Bridge     bridge.Options

	AppearPoll      time.Duration
	AppearTimeout   time.Duration
	SoftRebootDelay time.Duration
}

// DefaultRebootOptions returns production defaults.
func DefaultRebootOptions() RebootOptions {
	return RebootOptions{
		Bridge:          bridge.DefaultOptions(),
		AppearPoll:      50 * time.Millisecond,
		AppearTimeout:   60 * time.Second,
		SoftRebootDelay: 250 * time.Millisecond,
	}
}
