//go:build windows

package halfkay

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

// On Windows the HID class driver owns HalfKay, so reports go through the
// device interface path with overlapped WriteFile and an explicit
// completion wait. Synchronous HID writes can stall indefinitely on some
// hubs.

var (
	modhid      = windows.NewLazySystemDLL("hid.dll")
	modsetupapi = windows.NewLazySystemDLL("setupapi.dll")

	procHidDGetHidGuid    = modhid.NewProc("HidD_GetHidGuid")
	procHidDGetAttributes = modhid.NewProc("HidD_GetAttributes")

	procSetupDiGetClassDevsW             = modsetupapi.NewProc("SetupDiGetClassDevsW")
	procSetupDiEnumDeviceInterfaces      = modsetupapi.NewProc("SetupDiEnumDeviceInterfaces")
	procSetupDiGetDeviceInterfaceDetailW = modsetupapi.NewProc("SetupDiGetDeviceInterfaceDetailW")
	procSetupDiDestroyDeviceInfoList     = modsetupapi.NewProc("SetupDiDestroyDeviceInfoList")
)

const (
	digcfPresent         = 0x02
	digcfDeviceInterface = 0x10

	invalidHandleValue = ^uintptr(0)
)

type hidAttributes struct {
	Size          uint32
	VendorID      uint16
	ProductID     uint16
	VersionNumber uint16
}

type spDeviceInterfaceData struct {
	Size               uint32
	InterfaceClassGuid windows.GUID
	Flags              uint32
	Reserved           uintptr
}

// List enumerates HalfKay-mode devices through the HID device interface
// class, matching VID/PID via HidD_GetAttributes.
func List() ([]Summary, error) {
	var guid windows.GUID
	procHidDGetHidGuid.Call(uintptr(unsafe.Pointer(&guid)))

	devInfo, _, _ := procSetupDiGetClassDevsW.Call(
		uintptr(unsafe.Pointer(&guid)), 0, 0,
		digcfPresent|digcfDeviceInterface,
	)
	if devInfo == invalidHandleValue {
		return nil, fmt.Errorf("SetupDiGetClassDevs: %w", windows.GetLastError())
	}
	defer procSetupDiDestroyDeviceInfoList.Call(devInfo)

	var out []Summary
	for index := uint32(0); ; index++ {
		var ifData spDeviceInterfaceData
		ifData.Size = uint32(unsafe.Sizeof(ifData))
		ok, _, _ := procSetupDiEnumDeviceInterfaces.Call(
			devInfo, 0,
			uintptr(unsafe.Pointer(&guid)),
			uintptr(index),
			uintptr(unsafe.Pointer(&ifData)),
		)
		if ok == 0 {
			break
		}

		path, err := interfaceDetailPath(devInfo, &ifData)
		if err != nil {
			continue
		}
		if matchHalfKay(path) {
			out = append(out, Summary{
				VID:  teensy.VendorID,
				PID:  teensy.ProductHalfKay,
				Path: path,
			})
		}
	}
	return out, nil
}

func interfaceDetailPath(devInfo uintptr, ifData *spDeviceInterfaceData) (string, error) {
	var required uint32
	procSetupDiGetDeviceInterfaceDetailW.Call(
		devInfo, uintptr(unsafe.Pointer(ifData)), 0, 0,
		uintptr(unsafe.Pointer(&required)), 0,
	)
	if required == 0 {
		return "", errors.New("no interface detail")
	}

	// SP_DEVICE_INTERFACE_DETAIL_DATA_W: 4-byte cbSize then the path.
	buf := make([]byte, required)
	*(*uint32)(unsafe.Pointer(&buf[0])) = uint32(4 + unsafe.Sizeof(uint16(0)))
	ok, _, _ := procSetupDiGetDeviceInterfaceDetailW.Call(
		devInfo, uintptr(unsafe.Pointer(ifData)),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(required),
		0, 0,
	)
	if ok == 0 {
		return "", windows.GetLastError()
	}

	pathWords := (*[1 << 15]uint16)(unsafe.Pointer(&buf[4]))[: (required-4)/2 : (required-4)/2]
	return windows.UTF16ToString(pathWords), nil
}

// matchHalfKay opens the path without read/write access (enumeration only)
// and checks the HID attributes.
func matchHalfKay(path string) bool {
	wide, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false
	}
	h, err := windows.CreateFile(wide, 0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return false
	}
	defer windows.CloseHandle(h)

	var attrs hidAttributes
	attrs.Size = uint32(unsafe.Sizeof(attrs))
	ok, _, _ := procHidDGetAttributes.Call(uintptr(h), uintptr(unsafe.Pointer(&attrs)))
	return ok != 0 && attrs.VendorID == teensy.VendorID && attrs.ProductID == teensy.ProductHalfKay
}

// Open opens the HalfKay device at the given HID interface path with
// overlapped I/O.
func Open(path string) (*Device, error) {
	wide, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	// Manual-reset event, initially signaled.
	event, err := windows.CreateEvent(nil, 1, 1, nil)
	if err != nil {
		return nil, fmt.Errorf("CreateEvent: %w", err)
	}

	h, err := windows.CreateFile(wide,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil, windows.OPEN_EXISTING, windows.FILE_FLAG_OVERLAPPED, 0)
	if err != nil {
		windows.CloseHandle(event)
		return nil, fmt.Errorf("CreateFile: %w", err)
	}

	return &Device{
		Path: path,
		w:    &overlappedWriter{handle: h, event: event},
	}, nil
}

// overlappedWriter performs overlapped report writes with an explicit
// completion wait, retrying within the per-report deadline.
type overlappedWriter struct {
	handle windows.Handle
	event  windows.Handle
}

func (w *overlappedWriter) writeReport(packet []byte, timeout time.Duration) error {
	// HID WriteFile wants the report ID (0) ahead of the packet.
	report := make([]byte, len(packet)+1)
	copy(report[1:], packet)

	deadline := time.Now().Add(timeout)
	lastErr := error(&WriteError{Op: "WriteFile", Err: errors.New("timeout")})
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lastErr
		}
		if err := w.writeOnce(report, remaining); err != nil {
			lastErr = err
			time.Sleep(10 * time.Millisecond)
			continue
		}
		return nil
	}
}

func (w *overlappedWriter) writeOnce(report []byte, timeout time.Duration) error {
	windows.ResetEvent(w.event)

	var ov windows.Overlapped
	ov.HEvent = w.event

	err := windows.WriteFile(w.handle, report, nil, &ov)
	if err != nil && err != windows.ERROR_IO_PENDING {
		return &WriteError{Op: "WriteFile", Err: err}
	}

	if err == windows.ERROR_IO_PENDING {
		ms := uint32(timeout / time.Millisecond)
		if ms == 0 {
			ms = 1
		}
		status, werr := windows.WaitForSingleObject(w.event, ms)
		switch {
		case werr != nil:
			return &WriteError{Op: "WaitForSingleObject", Err: werr}
		case status == uint32(windows.WAIT_TIMEOUT):
			// Cancellation is asynchronous; wait for completion so the
			// kernel is done with our OVERLAPPED before returning.
			windows.CancelIoEx(w.handle, &ov)
			var n uint32
			windows.GetOverlappedResult(w.handle, &ov, &n, true)
			return &WriteError{Op: "WriteFile", Err: errors.New("timeout")}
		case status != windows.WAIT_OBJECT_0:
			return &WriteError{Op: "WaitForSingleObject", Err: fmt.Errorf("status %d", status)}
		}
	}

	var n uint32
	if err := windows.GetOverlappedResult(w.handle, &ov, &n, false); err != nil {
		return &WriteError{Op: "GetOverlappedResult", Err: err}
	}
	if n == 0 {
		return &ShortWriteError{Got: 0, Expected: len(report)}
	}
	return nil
}

func (w *overlappedWriter) close() error {
	if w.handle != 0 && w.handle != windows.InvalidHandle {
		windows.CloseHandle(w.handle)
		w.handle = 0
	}
	if w.event != 0 {
		windows.CloseHandle(w.event)
		w.event = 0
	}
	return nil
}
