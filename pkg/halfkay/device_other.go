//go:build !windows

package halfkay

import (
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

// List enumerates HalfKay-mode devices by VID/PID without opening them.
func List() ([]Summary, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []Summary
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) == teensy.VendorID && uint16(desc.Product) == teensy.ProductHalfKay {
			out = append(out, Summary{
				VID:  uint16(desc.Vendor),
				PID:  uint16(desc.Product),
				Path: fmt.Sprintf("usb:%03d:%03d", desc.Bus, desc.Address),
			})
		}
		return false
	})
	if err != nil && err != gousb.ErrorAccess {
		return out, err
	}
	return out, nil
}

// Open opens the HalfKay device at the given enumeration path.
func Open(path string) (*Device, error) {
	ctx := gousb.NewContext()

	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if uint16(desc.Vendor) != teensy.VendorID || uint16(desc.Product) != teensy.ProductHalfKay {
			return false
		}
		return fmt.Sprintf("usb:%03d:%03d", desc.Bus, desc.Address) == path
	})
	if err != nil && err != gousb.ErrorAccess {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, err
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, ErrNoDevice
	}

	dev := devs[0]
	for _, extra := range devs[1:] {
		extra.Close()
	}

	// Detach the kernel HID driver so the control transfers reach the
	// bootloader. Not fatal everywhere.
	_ = dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim config: %w", err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("claim interface: %w", err)
	}

	return &Device{
		Path: path,
		w: &usbWriter{
			ctx:  ctx,
			dev:  dev,
			cfg:  cfg,
			intf: intf,
		},
	}, nil
}

// usbWriter sends reports as HID SetReport control transfers through
// libusb. This is the generic synchronous path.
type usbWriter struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

const (
	hidSetReport             = 0x09
	hidReportTypeOut         = 0x02
	setReportRequestTy uint8 = gousb.ControlOut | gousb.ControlClass | gousb.ControlInterface
)

func (w *usbWriter) writeReport(packet []byte, timeout time.Duration) error {
	w.dev.ControlTimeout = timeout
	n, err := w.dev.Control(setReportRequestTy, hidSetReport, hidReportTypeOut<<8, 0, packet)
	if err != nil {
		return &WriteError{Op: "hid set-report", Err: err}
	}
	if n != len(packet) {
		return &ShortWriteError{Got: n, Expected: len(packet)}
	}
	return nil
}

func (w *usbWriter) close() error {
	if w.intf != nil {
		w.intf.Close()
		w.intf = nil
	}
	if w.cfg != nil {
		w.cfg.Close()
		w.cfg = nil
	}
	if w.dev != nil {
		w.dev.Close()
		w.dev = nil
	}
	if w.ctx != nil {
		w.ctx.Close()
		w.ctx = nil
	}
	return nil
}
