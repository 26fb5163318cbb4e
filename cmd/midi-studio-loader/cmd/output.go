package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/petitechose/midi-studio-loader/pkg/flash"
)

// newSink builds the progress sink matching the output flags: one JSON
// event per line on stdout, or human-readable logging plus a progress
// bar on stderr.
func newSink() flash.Sink {
	if jsonOut {
		return jsonSink(os.Stdout, jsonTimestamps, jsonProgress)
	}
	return humanSink()
}

func jsonSink(w io.Writer, timestamps bool, progress string) flash.Sink {
	enc := json.NewEncoder(w)
	lastPercent := -1

	emit := func(name string, payload any) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return
		}
		m := map[string]any{}
		json.Unmarshal(raw, &m)
		m["event"] = name
		if timestamps {
			m["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
		enc.Encode(m)
	}

	return func(ev flash.Event) {
		if bw, ok := ev.(flash.BlockWritten); ok {
			switch progress {
			case "none":
				return
			case "percent":
				pct := 100
				if bw.Total > 0 {
					pct = (bw.Index + 1) * 100 / bw.Total
				}
				if pct == lastPercent {
					return
				}
				lastPercent = pct
				emit("progress", map[string]any{
					"target_id": bw.TargetID,
					"percent":   pct,
				})
				return
			}
		}
		emit(ev.Name(), ev)
	}
}

func humanSink() flash.Sink {
	var bar *progressbar.ProgressBar

	closeBar := func() {
		if bar != nil {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			bar = nil
		}
	}

	return func(ev flash.Event) {
		switch v := ev.(type) {
		case flash.HexLoaded:
			logger.Info().Str("path", v.Path).Int("bytes", v.Bytes).Int("blocks", v.Blocks).
				Msg("firmware image loaded")
		case flash.DiscoverDone:
			logger.Debug().Int("count", v.Count).Msg("discovery pass done")
		case flash.TargetSelected:
			logger.Info().Str("target", v.TargetID).Msg("target selected")
		case flash.BridgePaused:
			logger.Info().Str("method", string(v.Info.Method)).Str("id", v.Info.ID).
				Msg("bridge paused")
		case flash.BridgePauseSkipped:
			logger.Debug().Str("reason", string(v.Reason)).Msg("bridge pause skipped")
		case flash.BridgePauseFailed:
			logger.Warn().Str("hint", v.Error.Hint).Msg(v.Error.Message)
		case flash.BridgeResumeStart:
			logger.Debug().Msg("resuming bridge")
		case flash.BridgeResumed:
			logger.Info().Msg("bridge resumed")
		case flash.BridgeResumeFailed:
			logger.Error().Str("hint", v.Error.Hint).Msg(v.Error.Message)
		case flash.SoftReboot:
			logger.Info().Str("port", v.Port).Msg("rebooting into bootloader")
		case flash.SoftRebootFailed:
			logger.Warn().Str("port", v.Port).Str("error", v.Error).
				Msg("soft reboot trigger failed, waiting anyway")
		case flash.HalfKayWait:
			logger.Info().Msg("waiting for bootloader")
		case flash.HalfKayAppeared:
			logger.Debug().Str("path", v.Path).Msg("bootloader appeared")
		case flash.HalfKayOpen:
			logger.Info().Str("path", v.Path).Msg("bootloader open")
		case flash.BlockWritten:
			if quiet {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions(v.Total,
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetDescription("flashing"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(30),
					progressbar.OptionThrottle(50*time.Millisecond),
				)
			}
			bar.Set(v.Index + 1)
		case flash.Retry:
			closeBar()
			logger.Warn().Int("addr", v.Addr).Int("attempt", v.Attempt).Int("budget", v.Budget).
				Msg("block write failed, retrying")
		case flash.Boot:
			closeBar()
			logger.Info().Msg("booting firmware")
		case flash.TargetDone:
			closeBar()
			if !v.OK {
				logger.Error().Str("target", v.TargetID).Msg(v.Error)
			}
		case flash.Done:
			closeBar()
			logger.Info().Str("target", v.TargetID).
				Int("bytes", v.Bytes).Int("blocks", v.Blocks).Int64("elapsed_ms", v.ElapsedMS).
				Msg("flash complete")
		}
	}
}

// printPlan reports a dry run.
func printPlan(w io.Writer, hexPath string, res *flash.PlanResult) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(res)
	}

	fmt.Fprintf(w, "Would flash %s: %d bytes in %d blocks\n", hexPath, res.Bytes, res.Blocks)
	for _, t := range res.Targets {
		fmt.Fprintf(w, "  -> %s\n", t.Label())
	}
	if res.NeedsSerial {
		fmt.Fprintln(w, "Serial targets would be soft-rebooted into the bootloader first.")
	}
	return nil
}
