// Package flash orchestrates firmware loading: discovery, target
// selection, the serial-bridge pause bracket, the soft reboot into the
// bootloader, the block write loop with retry and reopen recovery, and
// the final boot command. Hardware access goes through injectable
// function fields so every failure path is testable without a device.
package flash

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/petitechose/midi-studio-loader/pkg/bridge"
	"github.com/petitechose/midi-studio-loader/pkg/halfkay"
	"github.com/petitechose/midi-studio-loader/pkg/hexfile"
	"github.com/petitechose/midi-studio-loader/pkg/serialreboot"
	"github.com/petitechose/midi-studio-loader/pkg/target"
	"github.com/petitechose/midi-studio-loader/pkg/teensy"
)

// BlockWriter is an open bootloader device from the engine's point of
// view. halfkay.Device satisfies it.
type BlockWriter interface {
	WriteBlock(blockAddr int, data []byte, writeIndex int) error
	Boot() error
	Close() error
}

// Engine runs flash and reboot operations. The function fields default
// to the real hardware paths via New; tests substitute fakes.
type Engine struct {
	Discover     func() ([]target.Target, error)
	HalfKayPaths func() ([]string, error)
	Open         func(path string) (BlockWriter, error)
	SoftReboot   func(port string) error
	PauseBridge  func(bridge.Options) bridge.Pause

	Log zerolog.Logger
}

// New returns an engine wired to real devices.
func New() *Engine {
	return &Engine{
		Discover:     target.Discover,
		HalfKayPaths: halfkay.ListPaths,
		Open: func(path string) (BlockWriter, error) {
			return halfkay.Open(path)
		},
		SoftReboot:  serialreboot.Trigger,
		PauseBridge: bridge.PauseBridge,
		Log:         zerolog.Nop(),
	}
}

// FlashFile loads an Intel HEX image and flashes it.
func (e *Engine) FlashFile(path string, sel Selection, opts Options, sink Sink) error {
	img, err := hexfile.Load(path)
	if err != nil {
		if errors.Is(err, hexfile.ErrInvalidHex) {
			return &Error{Kind: KindInvalidHex, Err: err}
		}
		return errf(KindUnexpected, "load %s: %v", path, err)
	}
	sink.emit(HexLoaded{Path: path, Bytes: img.ByteCount, Blocks: len(img.BlocksToWrite)})
	return e.Flash(img, sel, opts, sink)
}

// Flash writes the image to the selected targets and reports progress
// through sink. The returned error, if any, classifies via KindOf.
func (e *Engine) Flash(img *hexfile.Image, sel Selection, opts Options, sink Sink) error {
	targets, err := e.discoverWait(opts, sink)
	if err != nil {
		return err
	}
	selected, err := e.selectTargets(targets, sel, opts.SerialPort)
	if err != nil {
		return err
	}
	for _, t := range selected {
		sink.emit(TargetSelected{TargetID: t.ID()})
	}
	return e.runTargets(selected, opts.Bridge, KindWriteFailed, sink, func(t target.Target) error {
		return e.flashTarget(img, t, opts, sink)
	})
}

// PlanResult is the outcome of a dry run: what would be flashed, and
// where, without touching any device.
type PlanResult struct {
	Targets     []target.Target `json:"targets"`
	NeedsSerial bool            `json:"needs_serial"`
	Bytes       int             `json:"bytes"`
	Blocks      int             `json:"blocks"`
}

// Plan performs discovery and selection only.
func (e *Engine) Plan(img *hexfile.Image, sel Selection, opts Options, sink Sink) (*PlanResult, error) {
	targets, err := e.discoverWait(opts, sink)
	if err != nil {
		return nil, err
	}
	selected, err := e.selectTargets(targets, sel, opts.SerialPort)
	if err != nil {
		return nil, err
	}
	res := &PlanResult{
		Targets: selected,
		Bytes:   img.ByteCount,
		Blocks:  len(img.BlocksToWrite),
	}
	for _, t := range selected {
		sink.emit(TargetSelected{TargetID: t.ID()})
		if t.Kind == target.KindSerial {
			res.NeedsSerial = true
		}
	}
	return res, nil
}

// Reboot puts the selected targets into the bootloader without writing
// anything. Targets already in HalfKay mode are left as they are.
func (e *Engine) Reboot(sel Selection, opts RebootOptions, sink Sink) error {
	sink.emit(DiscoverStart{})
	targets, err := e.Discover()
	if err != nil {
		return errf(KindUnexpected, "discovery: %v", err)
	}
	for i, t := range targets {
		sink.emit(TargetDetected{Index: i, Target: t})
	}
	sink.emit(DiscoverDone{Count: len(targets)})

	selected, err := e.selectTargets(targets, sel, opts.SerialPort)
	if err != nil {
		return err
	}
	for _, t := range selected {
		sink.emit(TargetSelected{TargetID: t.ID()})
	}
	return e.runTargets(selected, opts.Bridge, KindNoDevice, sink, func(t target.Target) error {
		if t.Kind == target.KindHalfKay {
			return nil
		}
		_, err := e.enterBootloader(t, opts.SoftRebootDelay, opts.AppearTimeout, opts.AppearPoll, sink)
		return err
	})
}

func (e *Engine) discoverWait(opts Options, sink Sink) ([]target.Target, error) {
	sink.emit(DiscoverStart{})
	start := time.Now()
	for {
		targets, err := e.Discover()
		if err != nil {
			return nil, errf(KindUnexpected, "discovery: %v", err)
		}
		if len(targets) > 0 {
			for i, t := range targets {
				sink.emit(TargetDetected{Index: i, Target: t})
			}
			sink.emit(DiscoverDone{Count: len(targets)})
			return targets, nil
		}
		if !opts.Wait {
			sink.emit(DiscoverDone{Count: 0})
			return nil, errf(KindNoDevice, "no Teensy found")
		}
		if opts.WaitTimeout > 0 && time.Since(start) >= opts.WaitTimeout {
			sink.emit(DiscoverDone{Count: 0})
			return nil, errf(KindNoDevice, "no Teensy found within %v", opts.WaitTimeout)
		}
		e.Log.Debug().Msg("no targets yet, polling")
		time.Sleep(opts.PollInterval)
	}
}

func (e *Engine) selectTargets(targets []target.Target, sel Selection, preferredPort string) ([]target.Target, error) {
	if sel.All {
		if len(targets) == 0 {
			return nil, errf(KindNoDevice, "no Teensy found")
		}
		return targets, nil
	}

	if sel.Device != "" {
		s, err := target.ParseSelector(sel.Device)
		if err != nil {
			return nil, errf(KindAmbiguousTarget, "%v", err)
		}
		t, err := s.Resolve(targets)
		if err != nil {
			if errors.Is(err, target.ErrAmbiguous) || errors.Is(err, target.ErrIndexRange) {
				return nil, errf(KindAmbiguousTarget, "%v", err)
			}
			return nil, errf(KindNoDevice, "%v", err)
		}
		return []target.Target{t}, nil
	}

	return autoSelect(targets, preferredPort)
}

// autoSelect picks the single obvious target. A lone device already in
// bootloader mode wins even when serial targets are present, because it
// is the one the user put there.
func autoSelect(targets []target.Target, preferredPort string) ([]target.Target, error) {
	var hk, ser []target.Target
	for _, t := range targets {
		if t.Kind == target.KindHalfKay {
			hk = append(hk, t)
		} else {
			ser = append(ser, t)
		}
	}

	if len(hk) == 1 {
		return hk, nil
	}
	if len(hk) > 1 {
		return nil, errf(KindAmbiguousTarget,
			"%d devices in bootloader mode; pick one with --device", len(hk))
	}

	if preferredPort != "" {
		for _, t := range ser {
			if t.Path == preferredPort {
				return []target.Target{t}, nil
			}
		}
		// Never substitute another board for the one the user named.
		return nil, errf(KindNoDevice, "serial port %s not found", preferredPort)
	}
	switch len(ser) {
	case 0:
		return nil, errf(KindNoDevice, "no Teensy found")
	case 1:
		return ser, nil
	default:
		return nil, errf(KindAmbiguousTarget,
			"%d serial targets found; pick one with --device or --serial-port", len(ser))
	}
}

// runTargets wraps the per-target work in the bridge pause bracket and
// aggregates failures. With several targets a failure does not stop the
// remaining ones; aggKind classifies the aggregate unless an ambiguity
// outranks it.
func (e *Engine) runTargets(selected []target.Target, bopts bridge.Options, aggKind Kind, sink Sink, run func(target.Target) error) error {
	needsSerial := false
	for _, t := range selected {
		if t.Kind == target.KindSerial {
			needsSerial = true
		}
	}

	if needsSerial {
		sink.emit(BridgePauseStart{})
		p := e.PauseBridge(bopts)
		switch {
		case p.Guard != nil:
			sink.emit(BridgePaused{Info: *p.Info})
			info := *p.Info
			guard := p.Guard
			defer func() {
				sink.emit(BridgeResumeStart{})
				if err := guard.Resume(); err != nil {
					sink.emit(BridgeResumeFailed{Error: bridge.ErrorInfo{
						Message: err.Error(),
						Hint:    guard.ResumeHint(),
					}})
					return
				}
				sink.emit(BridgeResumed{Info: info})
			}()
		case p.Err != nil:
			// Best effort: report and carry on flashing.
			sink.emit(BridgePauseFailed{Error: *p.Err})
		default:
			sink.emit(BridgePauseSkipped{Reason: p.SkipReason})
		}
	}

	var failures []error
	for _, t := range selected {
		sink.emit(TargetStart{TargetID: t.ID(), Kind: t.Kind})
		if err := run(t); err != nil {
			sink.emit(TargetDone{TargetID: t.ID(), OK: false, Error: err.Error()})
			failures = append(failures, fmt.Errorf("%s: %w", t.ID(), err))
			continue
		}
		sink.emit(TargetDone{TargetID: t.ID(), OK: true})
	}

	switch {
	case len(failures) == 0:
		return nil
	case len(selected) == 1:
		return failures[0]
	default:
		kind := aggKind
		for _, f := range failures {
			if KindOf(f) == KindAmbiguousTarget {
				kind = KindAmbiguousTarget
			}
		}
		return errf(kind, "%d of %d targets failed: %v",
			len(failures), len(selected), errors.Join(failures...))
	}
}

func (e *Engine) flashTarget(img *hexfile.Image, t target.Target, opts Options, sink Sink) error {
	path := t.Path
	if t.Kind == target.KindSerial {
		p, err := e.enterBootloader(t, opts.SoftRebootDelay, opts.AppearTimeout, opts.AppearPoll, sink)
		if err != nil {
			return err
		}
		path = p
	}
	return e.writeImage(img, t.ID(), path, opts, sink)
}

// enterBootloader soft-reboots a serial target and waits for exactly
// one new HalfKay device to enumerate.
func (e *Engine) enterBootloader(t target.Target, settle, timeout, poll time.Duration, sink Sink) (string, error) {
	before, err := e.HalfKayPaths()
	if err != nil {
		return "", errf(KindUnexpected, "hid scan: %v", err)
	}

	// A failed trigger is not terminal: the appear wait below decides.
	if err := e.SoftReboot(t.Path); err != nil {
		sink.emit(SoftRebootFailed{TargetID: t.ID(), Port: t.Path, Error: err.Error()})
		e.Log.Warn().Str("port", t.Path).Err(err).Msg("soft reboot trigger failed")
	} else {
		sink.emit(SoftReboot{TargetID: t.ID(), Port: t.Path})
		time.Sleep(settle)
	}

	sink.emit(HalfKayWait{TargetID: t.ID()})
	path, err := e.waitNewHalfKay(before, timeout, poll)
	if err != nil {
		return "", err
	}
	sink.emit(HalfKayAppeared{TargetID: t.ID(), Path: path})
	return path, nil
}

// waitNewHalfKay diffs HID snapshots until a path absent from before
// shows up. Two or more new paths at once means we cannot tell which
// device we rebooted.
func (e *Engine) waitNewHalfKay(before []string, timeout, poll time.Duration) (string, error) {
	known := make(map[string]bool, len(before))
	for _, p := range before {
		known[p] = true
	}

	start := time.Now()
	for {
		paths, err := e.HalfKayPaths()
		if err == nil {
			var fresh []string
			for _, p := range paths {
				if !known[p] {
					fresh = append(fresh, p)
				}
			}
			switch {
			case len(fresh) == 1:
				return fresh[0], nil
			case len(fresh) > 1:
				return "", errf(KindAmbiguousTarget,
					"%d bootloader devices appeared at once", len(fresh))
			}
		}
		if time.Since(start) >= timeout {
			return "", errf(KindNoDevice, "bootloader did not appear within %v", timeout)
		}
		time.Sleep(poll)
	}
}

// writeImage streams the non-blank blocks to the open device. A failed
// write closes the handle, reopens the same path and retries the same
// block until the budget runs out.
func (e *Engine) writeImage(img *hexfile.Image, targetID, path string, opts Options, sink Sink) error {
	dev, err := e.Open(path)
	if err != nil {
		return errf(KindNoDevice, "open %s: %v", path, err)
	}
	sink.emit(HalfKayOpen{TargetID: targetID, Path: path})
	defer func() {
		if dev != nil {
			dev.Close()
		}
	}()

	start := time.Now()
	total := len(img.BlocksToWrite)
	for i, addr := range img.BlocksToWrite {
		data := img.Data[addr : addr+teensy.BlockSize]

		attempt := 0
		for {
			err := dev.WriteBlock(addr, data, i)
			if err == nil {
				break
			}
			attempt++
			if attempt > opts.Retries {
				return errf(KindWriteFailed, "write block at 0x%06X: %v", addr, err)
			}
			sink.emit(Retry{
				TargetID: targetID,
				Addr:     addr,
				Attempt:  attempt,
				Budget:   opts.Retries,
				Error:    err.Error(),
			})
			e.Log.Warn().Int("addr", addr).Int("attempt", attempt).Err(err).
				Msg("block write failed, reopening device")

			dev.Close()
			dev = nil
			time.Sleep(opts.ReopenDelay)
			nd, rerr := e.reopen(path, opts.ReopenTimeout, opts.ReopenDelay)
			if rerr != nil {
				return errf(KindWriteFailed, "reopen %s after write failure: %v", path, rerr)
			}
			dev = nd
		}

		sink.emit(BlockWritten{TargetID: targetID, Index: i, Total: total, Addr: addr})
	}

	if !opts.NoReboot {
		sink.emit(Boot{TargetID: targetID})
		dev.Boot()
	}
	dev.Close()
	dev = nil

	sink.emit(Done{
		TargetID:  targetID,
		Bytes:     img.ByteCount,
		Blocks:    total,
		ElapsedMS: time.Since(start).Milliseconds(),
	})
	return nil
}

func (e *Engine) reopen(path string, timeout, poll time.Duration) (BlockWriter, error) {
	start := time.Now()
	for {
		dev, err := e.Open(path)
		if err == nil {
			return dev, nil
		}
		if time.Since(start) >= timeout {
			return nil, err
		}
		time.Sleep(poll)
	}
}
