package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/petitechose/midi-studio-loader/pkg/bridge"
	"github.com/petitechose/midi-studio-loader/pkg/flash"
)

var (
	// Global flags
	verbose        bool
	quiet          bool
	jsonOut        bool
	jsonTimestamps bool

	// Bridge coordination flags, shared by flash and reboot.
	noBridgeControl      bool
	bridgeControlPort    int
	bridgeControlTimeout int
	bridgeTimeout        int
	bridgeServiceID      string

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "midi-studio-loader",
	Short: "Firmware loader for Teensy 4.1 based MIDI Studio hardware",
	Long: `Flashes Intel HEX firmware images to Teensy 4.1 boards through the
HalfKay bootloader, rebooting running firmware into the bootloader over
USB serial when needed.

Examples:
  midi-studio-loader flash firmware.hex                 # Flash the single connected board
  midi-studio-loader flash firmware.hex --device COM6   # Flash a specific board
  midi-studio-loader flash firmware.hex --all           # Flash every connected board
  midi-studio-loader list                               # Show connected boards
  midi-studio-loader reboot                             # Put a board into the bootloader`,
	Version:       "1.2.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger()
	},
}

// Execute runs the root command and exits with the operation's code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		code := flash.ExitCode(err)
		if jsonOut {
			json.NewEncoder(os.Stdout).Encode(map[string]any{
				"event":   "error",
				"code":    code,
				"kind":    string(flash.KindOf(err)),
				"message": err.Error(),
			})
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}

func setupLogger() {
	level := zerolog.InfoLevel
	if quiet {
		level = zerolog.ErrorLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// bridgeOptions assembles the bridge configuration from the flags.
func bridgeOptions() bridge.Options {
	opts := bridge.DefaultOptions()
	opts.Enabled = !noBridgeControl
	opts.ServiceID = bridgeServiceID
	if bridgeControlPort > 0 {
		opts.ControlPort = bridgeControlPort
	}
	if bridgeControlTimeout > 0 {
		opts.ControlTimeout = time.Duration(bridgeControlTimeout) * time.Millisecond
	}
	if bridgeTimeout > 0 {
		opts.Timeout = time.Duration(bridgeTimeout) * time.Millisecond
	}
	return opts
}

func newEngine() *flash.Engine {
	e := flash.New()
	e.Log = logger
	return e
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress informational output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "machine-readable line-delimited JSON on stdout")
	rootCmd.PersistentFlags().BoolVar(&jsonTimestamps, "json-timestamps", false, "add RFC 3339 timestamps to JSON events")

	rootCmd.PersistentFlags().BoolVar(&noBridgeControl, "no-bridge-control", false,
		"do not pause the oc-bridge service around serial access")
	rootCmd.PersistentFlags().IntVar(&bridgeControlPort, "bridge-control-port", 0,
		"oc-bridge loopback control port (default 7999)")
	rootCmd.PersistentFlags().IntVar(&bridgeControlTimeout, "bridge-control-timeout-ms", 0,
		"timeout for one bridge control round trip (default 2500)")
	rootCmd.PersistentFlags().IntVar(&bridgeTimeout, "bridge-timeout-ms", 0,
		"timeout for bridge service stop/start (default 5000)")
	rootCmd.PersistentFlags().StringVar(&bridgeServiceID, "bridge-service-id", "",
		"override the oc-bridge service identifier")
}
