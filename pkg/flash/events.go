package flash

import (
	"github.com/petitechose/midi-studio-loader/pkg/bridge"
	"github.com/petitechose/midi-studio-loader/pkg/target"
)

// Event is one step in an operation's progress stream. Each concrete
// event carries only its own payload; Name is the stable discriminator
// used by machine consumers.
type Event interface {
	Name() string
}

// Sink receives progress events. A nil sink discards them.
type Sink func(Event)

func (s Sink) emit(ev Event) {
	if s != nil {
		s(ev)
	}
}

// HexLoaded reports the parsed firmware image.
type HexLoaded struct {
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
	Blocks int    `json:"blocks"`
}

func (HexLoaded) Name() string { return "hex_loaded" }

// DiscoverStart marks the beginning of target discovery.
type DiscoverStart struct{}

func (DiscoverStart) Name() string { return "discover_start" }

// TargetDetected reports one discovered target with its snapshot index.
type TargetDetected struct {
	Index  int           `json:"index"`
	Target target.Target `json:"target"`
}

func (TargetDetected) Name() string { return "target_detected" }

// DiscoverDone closes a discovery pass.
type DiscoverDone struct {
	Count int `json:"count"`
}

func (DiscoverDone) Name() string { return "discover_done" }

// TargetSelected reports the outcome of selection.
type TargetSelected struct {
	TargetID string `json:"target_id"`
}

func (TargetSelected) Name() string { return "target_selected" }

// BridgePauseStart marks the attempt to pause the serial bridge.
type BridgePauseStart struct{}

func (BridgePauseStart) Name() string { return "bridge_pause_start" }

// BridgePaused reports a successful pause and the mechanism used.
type BridgePaused struct {
	Info bridge.PauseInfo `json:"info"`
}

func (BridgePaused) Name() string { return "bridge_paused" }

// BridgePauseSkipped reports that no pause was needed or possible.
type BridgePauseSkipped struct {
	Reason bridge.SkipReason `json:"reason"`
}

func (BridgePauseSkipped) Name() string { return "bridge_pause_skipped" }

// BridgePauseFailed reports a pause failure. The operation continues.
type BridgePauseFailed struct {
	Error bridge.ErrorInfo `json:"error"`
}

func (BridgePauseFailed) Name() string { return "bridge_pause_failed" }

// BridgeResumeStart marks the attempt to resume the serial bridge.
type BridgeResumeStart struct{}

func (BridgeResumeStart) Name() string { return "bridge_resume_start" }

// BridgeResumed reports a successful resume.
type BridgeResumed struct {
	Info bridge.PauseInfo `json:"info"`
}

func (BridgeResumed) Name() string { return "bridge_resumed" }

// BridgeResumeFailed reports a resume failure with a manual hint.
type BridgeResumeFailed struct {
	Error bridge.ErrorInfo `json:"error"`
}

func (BridgeResumeFailed) Name() string { return "bridge_resume_failed" }

// TargetStart opens the per-target phase.
type TargetStart struct {
	TargetID string      `json:"target_id"`
	Kind     target.Kind `json:"kind"`
}

func (TargetStart) Name() string { return "target_start" }

// SoftReboot reports the serial reboot trigger was sent.
type SoftReboot struct {
	TargetID string `json:"target_id"`
	Port     string `json:"port"`
}

func (SoftReboot) Name() string { return "soft_reboot" }

// SoftRebootFailed reports the trigger could not be sent. Not terminal:
// the device may still enter the bootloader (manual button press, or the
// port was busy because the reboot already started).
type SoftRebootFailed struct {
	TargetID string `json:"target_id"`
	Port     string `json:"port"`
	Error    string `json:"error"`
}

func (SoftRebootFailed) Name() string { return "soft_reboot_failed" }

// HalfKayWait reports we are waiting for the bootloader to enumerate.
type HalfKayWait struct {
	TargetID string `json:"target_id"`
}

func (HalfKayWait) Name() string { return "halfkay_wait" }

// HalfKayAppeared reports the bootloader path that showed up after a
// soft reboot.
type HalfKayAppeared struct {
	TargetID string `json:"target_id"`
	Path     string `json:"path"`
}

func (HalfKayAppeared) Name() string { return "halfkay_appeared" }

// HalfKayOpen reports the bootloader device is open for writing.
type HalfKayOpen struct {
	TargetID string `json:"target_id"`
	Path     string `json:"path"`
}

func (HalfKayOpen) Name() string { return "halfkay_open" }

// BlockWritten reports one successfully written firmware block.
type BlockWritten struct {
	TargetID string `json:"target_id"`
	Index    int    `json:"index"`
	Total    int    `json:"total"`
	Addr     int    `json:"addr"`
}

func (BlockWritten) Name() string { return "block_written" }

// Retry reports a block write failure that will be retried after a
// device reopen.
type Retry struct {
	TargetID string `json:"target_id"`
	Addr     int    `json:"addr"`
	Attempt  int    `json:"attempt"`
	Budget   int    `json:"budget"`
	Error    string `json:"error"`
}

func (Retry) Name() string { return "retry" }

// Boot reports the boot command was sent.
type Boot struct {
	TargetID string `json:"target_id"`
}

func (Boot) Name() string { return "boot" }

// TargetDone closes the per-target phase.
type TargetDone struct {
	TargetID string `json:"target_id"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

func (TargetDone) Name() string { return "target_done" }

// Done summarizes a completed flash.
type Done struct {
	TargetID  string `json:"target_id"`
	Bytes     int    `json:"bytes"`
	Blocks    int    `json:"blocks"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

func (Done) Name() string { return "done" }
