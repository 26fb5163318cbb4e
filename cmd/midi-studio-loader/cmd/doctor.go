package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/petitechose/midi-studio-loader/pkg/bridge"
	"github.com/petitechose/midi-studio-loader/pkg/target"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the flashing environment",
	Long: `Report the state of everything a flash depends on: connected boards,
the oc-bridge service and its loopback control endpoint.

Examples:
  midi-studio-loader doctor
  midi-studio-loader doctor --json`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorReport struct {
	Targets []target.Target `json:"targets"`

	BridgeServiceID     string  `json:"bridge_service_id"`
	BridgeServiceStatus string  `json:"bridge_service_status"`
	BridgeServiceError  string  `json:"bridge_service_error,omitempty"`
	BridgeControlPort   int     `json:"bridge_control_port"`
	BridgeControlOK     bool    `json:"bridge_control_ok"`
	BridgeControlPaused *bool   `json:"bridge_control_paused,omitempty"`
	BridgeControlError  string  `json:"bridge_control_error,omitempty"`
	BridgeControlMsg    *string `json:"bridge_control_message,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	bopts := bridgeOptions()
	report := doctorReport{BridgeControlPort: bopts.ControlPort}

	targets, err := target.Discover()
	if err != nil {
		return err
	}
	report.Targets = targets

	report.BridgeServiceID = bopts.ServiceID
	if report.BridgeServiceID == "" {
		report.BridgeServiceID = bridge.DefaultServiceID()
	}
	status, err := bridge.ServiceStatus(report.BridgeServiceID)
	if err != nil {
		report.BridgeServiceError = err.Error()
	} else {
		report.BridgeServiceStatus = string(status)
	}

	ctl, err := bridge.QueryControlStatus(bopts.ControlPort, bopts.ControlTimeout)
	if err != nil {
		report.BridgeControlError = err.Error()
	} else {
		report.BridgeControlOK = ctl.OK
		report.BridgeControlPaused = &ctl.Paused
		report.BridgeControlMsg = ctl.Message
	}

	if jsonOut {
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	printDoctor(os.Stdout, report)
	return nil
}

func printDoctor(w io.Writer, r doctorReport) {
	fmt.Fprintf(w, "Boards: %d\n", len(r.Targets))
	for i, t := range r.Targets {
		fmt.Fprintf(w, "  %3d  %s\n", i, t.Label())
	}

	fmt.Fprintf(w, "Bridge service %q: ", r.BridgeServiceID)
	switch {
	case r.BridgeServiceError != "":
		fmt.Fprintf(w, "query failed: %s\n", r.BridgeServiceError)
	default:
		fmt.Fprintln(w, r.BridgeServiceStatus)
	}

	fmt.Fprintf(w, "Bridge control 127.0.0.1:%d: ", r.BridgeControlPort)
	switch {
	case r.BridgeControlError != "":
		fmt.Fprintf(w, "unreachable: %s\n", r.BridgeControlError)
	case r.BridgeControlPaused != nil && *r.BridgeControlPaused:
		fmt.Fprintln(w, "reachable, paused")
	default:
		fmt.Fprintln(w, "reachable")
	}
}
