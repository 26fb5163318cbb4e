package cmd

import (
	"github.com/spf13/cobra"

	"github.com/petitechose/midi-studio-loader/pkg/flash"
)

var (
	rebootDeviceSel  string
	rebootAll        bool
	rebootSerialPort string
)

var rebootCmd = &cobra.Command{
	Use:   "reboot",
	Short: "Reboot a board into the HalfKay bootloader",
	Long: `Soft-reboot a running board into the HalfKay bootloader over its USB
serial port without flashing anything. A board already in bootloader
mode is left untouched.

Examples:
  midi-studio-loader reboot
  midi-studio-loader reboot --device COM6`,
	Args: cobra.NoArgs,
	RunE: runReboot,
}

func init() {
	rootCmd.AddCommand(rebootCmd)

	rebootCmd.Flags().StringVarP(&rebootDeviceSel, "device", "d", "",
		"target selector: index, port name, serial:<port> or halfkay:<path>")
	rebootCmd.Flags().BoolVar(&rebootAll, "all", false,
		"reboot every discovered target")
	rebootCmd.Flags().StringVar(&rebootSerialPort, "serial-port", "",
		"prefer this serial port during automatic selection")

	rebootCmd.MarkFlagsMutuallyExclusive("device", "all")
}

func runReboot(cmd *cobra.Command, args []string) error {
	opts := flash.DefaultRebootOptions()
	opts.SerialPort = rebootSerialPort
	opts.Bridge = bridgeOptions()

	sel := flash.Selection{All: rebootAll, Device: rebootDeviceSel}
	return newEngine().Reboot(sel, opts, newSink())
}
