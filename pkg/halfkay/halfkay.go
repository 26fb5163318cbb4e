// Package halfkay talks to the Teensy 4.1 HalfKay bootloader over USB HID.
//
// The bootloader accepts fixed-size 1088-byte reports: a 64-byte header
// whose first three bytes carry the little-endian byte address of the
// destination block, followed by one 1024-byte block of firmware. A header
// of FF FF FF commands the device to boot the programmed firmware.
package halfkay

import (
	"errors"
	"fmt"
	"time"

	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

// ErrNoDevice is returned when no HalfKay-mode device is present.
var ErrNoDevice = errors.New("no HalfKay device found")

// ShortWriteError reports a write that transferred fewer bytes than the
// full report.
type ShortWriteError struct {
	Got, Expected int
}

func (e *ShortWriteError) Error() string {
	return fmt.Sprintf("short write: %d != %d", e.Got, e.Expected)
}

// WriteError wraps a platform write failure with the operation that failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Summary describes a discovered HalfKay-mode device.
type Summary struct {
	VID  uint16 `json:"vid"`
	PID  uint16 `json:"pid"`
	Path string `json:"path"`
}

// reportWriter is the platform write primitive. Implementations must either
// complete a report write within the timeout or fail.
type reportWriter interface {
	writeReport(packet []byte, timeout time.Duration) error
	close() error
}

// Device is an open HalfKay bootloader device.
type Device struct {
	Path string

	w reportWriter
}

// Erase of the first sectors happens on the first writes and can stall the
// device for a long time; later writes complete quickly.
const (
	eraseWriteTimeout = 45 * time.Second
	blockWriteTimeout = 500 * time.Millisecond
	bootWriteTimeout  = 500 * time.Millisecond

	// Block writes with index <= eraseWriteIndex get the long timeout.
	eraseWriteIndex = 4
)

// WriteBlock sends one firmware block. blockAddr is the byte address of the
// block start inside the image; writeIndex is the ordinal of this write in
// the overall sequence, used to pick the erase-aware timeout.
func (d *Device) WriteBlock(blockAddr int, data []byte, writeIndex int) error {
	packet := BuildBlockReport(blockAddr, data)
	timeout := blockWriteTimeout
	if writeIndex <= eraseWriteIndex {
		timeout = eraseWriteTimeout
	}
	return d.w.writeReport(packet, timeout)
}

// Boot commands the device to leave the bootloader and run the programmed
// firmware. The device typically disappears immediately, so failures are
// ignored.
func (d *Device) Boot() error {
	_ = d.w.writeReport(BuildBootReport(), bootWriteTimeout)
	return nil
}

// Close releases the device handle.
func (d *Device) Close() error {
	if d.w == nil {
		return nil
	}
	err := d.w.close()
	d.w = nil
	return err
}

// BuildBlockReport assembles the 1088-byte report for one block. data
// shorter than a full block is zero-padded to the block boundary.
func BuildBlockReport(blockAddr int, data []byte) []byte {
	if len(data) > teensy.BlockSize {
		data = data[:teensy.BlockSize]
	}

	packet := make([]byte, teensy.PacketSize)
	packet[0] = byte(blockAddr)
	packet[1] = byte(blockAddr >> 8)
	packet[2] = byte(blockAddr >> 16)
	copy(packet[teensy.HeaderSize:], data)
	return packet
}

// BuildBootReport assembles the reboot report: FF FF FF header, zero body.
func BuildBootReport() []byte {
	packet := make([]byte, teensy.PacketSize)
	packet[0] = 0xFF
	packet[1] = 0xFF
	packet[2] = 0xFF
	return packet
}

// ListPaths returns just the device paths from List, for cheap
// before/after comparisons while waiting for a device to re-enumerate.
func ListPaths() ([]string, error) {
	devs, err := List()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(devs))
	for _, d := range devs {
		paths = append(paths, d.Path)
	}
	return paths, nil
}

// OpenWait polls for a HalfKay device until one can be opened or the
// timeout elapses. A zero timeout means a single attempt.
func OpenWait(timeout time.Duration, poll time.Duration) (*Device, error) {
	start := time.Now()
	for {
		devs, err := List()
		if err != nil {
			return nil, err
		}
		if len(devs) > 0 {
			return Open(devs[0].Path)
		}
		if timeout <= 0 || time.Since(start) >= timeout {
			return nil, ErrNoDevice
		}
		time.Sleep(poll)
	}
}
