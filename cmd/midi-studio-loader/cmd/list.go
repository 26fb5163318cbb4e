package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/petitechose/midi-studio-loader/pkg/target"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected boards",
	Long: `List Teensy 4.1 boards currently connected, both bootloader-mode
devices and running firmware exposing a USB serial port.

Examples:
  midi-studio-loader list
  midi-studio-loader list --json`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	targets, err := target.Discover()
	if err != nil {
		return err
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(targets)
	}

	if len(targets) == 0 {
		fmt.Println("No boards found.")
		return nil
	}
	for i, t := range targets {
		fmt.Printf("%3d  %s\n", i, t.Label())
	}
	return nil
}
