// Package serialreboot asks running Teensy firmware to jump into the
// HalfKay bootloader via the Teensyduino serial convention: opening the
// port with a line coding of 134 baud triggers the reboot. The port is a
// one-shot signal, never a data channel.
package serialreboot

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	// Non-operational baud rate recognized by the Teensy bootloader entry
	// convention.
	rebootBaud = 134

	// Some drivers only push line coding out after the settings settle.
	settleDelay = 120 * time.Millisecond
)

// Trigger opens the named port at the reboot baud rate and closes it
// again. The device re-enumerates as a HalfKay HID device shortly after;
// waiting for that is the caller's job.
func Trigger(portName string) error {
	mode := &serial.Mode{
		BaudRate: rebootBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return fmt.Errorf("serial port %q: %w", portName, err)
	}
	defer port.Close()

	// Re-apply explicitly; see settleDelay.
	_ = port.SetMode(mode)
	time.Sleep(settleDelay)
	return nil
}
