// Package target discovers flashable endpoints (HalfKay bootloader devices
// and PJRC USB serial ports) and resolves target selections against a
// discovery snapshot.
package target

import (
	"fmt"
	"sort"
	"strconv"

	"go.bug.st/serial/enumerator"

	"github.com/petitechose/midi-studio-loader/pkg/halfkay"
	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

// Kind categorizes a discovered target.
type Kind string

const (
	KindHalfKay Kind = "halfkay"
	KindSerial  Kind = "serial"
)

// Target is one discovered endpoint. Immutable snapshot; identity is the
// ID() string, nothing survives across discovery calls.
type Target struct {
	Kind Kind `json:"kind"`

	// Path is the platform device path (HalfKay) or port name (serial).
	Path string `json:"path"`

	VID uint16 `json:"vid"`
	PID uint16 `json:"pid"`

	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ID returns the stable identifier used by selectors and events, e.g.
// "serial:COM6" or "halfkay:usb:001:004".
func (t Target) ID() string {
	return string(t.Kind) + ":" + t.Path
}

// Label returns a human-readable one-line description.
func (t Target) Label() string {
	if t.Product != "" {
		return fmt.Sprintf("%s %04X:%04X %s", t.ID(), t.VID, t.PID, t.Product)
	}
	return fmt.Sprintf("%s %04X:%04X", t.ID(), t.VID, t.PID)
}

// Discover returns the current snapshot of HalfKay devices and PJRC USB
// serial ports, sorted deterministically (HalfKay first, then by path).
func Discover() ([]Target, error) {
	var out []Target

	hk, err := halfkay.List()
	if err != nil {
		return nil, fmt.Errorf("hid discovery failed: %w", err)
	}
	for _, d := range hk {
		out = append(out, Target{
			Kind: KindHalfKay,
			Path: d.Path,
			VID:  d.VID,
			PID:  d.PID,
		})
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial discovery failed: %w", err)
	}
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		vid, err := strconv.ParseUint(p.VID, 16, 16)
		if err != nil || uint16(vid) != teensy.VendorID {
			continue
		}
		pid, _ := strconv.ParseUint(p.PID, 16, 16)
		out = append(out, Target{
			Kind:         KindSerial,
			Path:         p.Name,
			VID:          uint16(vid),
			PID:          uint16(pid),
			SerialNumber: p.SerialNumber,
			Product:      p.Product,
		})
	}

	Sort(out)
	return out, nil
}

// Sort orders targets deterministically: HalfKay before serial, then by
// path. Keeps --all iteration and ambiguity messages stable.
func Sort(targets []Target) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Kind != targets[j].Kind {
			return targets[i].Kind == KindHalfKay
		}
		return targets[i].Path < targets[j].Path
	})
}
