package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petitechose/midi-studio-loader/pkg/flash"
	"github.com/petitechose/midi-studio-loader/pkg/hexfile"
)

var (
	deviceSel     string
	allTargets    bool
	dryRun        bool
	waitForDevice bool
	waitTimeoutMS int
	retries       int
	noReboot      bool
	serialPort    string
	jsonProgress  string
)

var flashCmd = &cobra.Command{
	Use:   "flash <firmware.hex>",
	Short: "Flash an Intel HEX firmware image",
	Long: `Flash an Intel HEX firmware image to one or more Teensy 4.1 boards.

A board running firmware is soft-rebooted into the HalfKay bootloader
over its USB serial port first. A board already in bootloader mode is
flashed directly.

Examples:
  midi-studio-loader flash firmware.hex
  midi-studio-loader flash firmware.hex --wait
  midi-studio-loader flash firmware.hex --device serial:COM6
  midi-studio-loader flash firmware.hex --all --json`,
	Args: cobra.ExactArgs(1),
	RunE: runFlash,
}

func init() {
	rootCmd.AddCommand(flashCmd)

	flashCmd.Flags().StringVarP(&deviceSel, "device", "d", "",
		"target selector: index, port name, serial:<port> or halfkay:<path>")
	flashCmd.Flags().BoolVar(&allTargets, "all", false,
		"flash every discovered target")
	flashCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"parse, discover and select, but write nothing")
	flashCmd.Flags().BoolVarP(&waitForDevice, "wait", "w", false,
		"wait for a target to appear")
	flashCmd.Flags().IntVar(&waitTimeoutMS, "wait-timeout-ms", 0,
		"bound the wait (0 waits forever)")
	flashCmd.Flags().IntVar(&retries, "retries", 3,
		"per-block retry budget")
	flashCmd.Flags().BoolVar(&noReboot, "no-reboot", false,
		"leave the board in the bootloader after flashing")
	flashCmd.Flags().StringVar(&serialPort, "serial-port", "",
		"prefer this serial port during automatic selection")
	flashCmd.Flags().StringVar(&jsonProgress, "json-progress", "blocks",
		"JSON progress detail: blocks, percent or none")

	flashCmd.MarkFlagsMutuallyExclusive("device", "all")
}

func runFlash(cmd *cobra.Command, args []string) error {
	switch jsonProgress {
	case "blocks", "percent", "none":
	default:
		return fmt.Errorf("invalid --json-progress %q (want blocks, percent or none)", jsonProgress)
	}

	opts := flash.DefaultOptions()
	opts.Wait = waitForDevice
	opts.WaitTimeout = time.Duration(waitTimeoutMS) * time.Millisecond
	opts.Retries = retries
	opts.NoReboot = noReboot
	opts.SerialPort = serialPort
	opts.Bridge = bridgeOptions()

	sel := flash.Selection{All: allTargets, Device: deviceSel}
	eng := newEngine()
	sink := newSink()

	if dryRun {
		img, err := hexfile.Load(args[0])
		if err != nil {
			if errors.Is(err, hexfile.ErrInvalidHex) {
				return &flash.Error{Kind: flash.KindInvalidHex, Err: err}
			}
			return err
		}
		res, err := eng.Plan(img, sel, opts, sink)
		if err != nil {
			return err
		}
		return printPlan(os.Stdout, args[0], res)
	}

	return eng.FlashFile(args[0], sel, opts, sink)
}
