package cmd

import (
	"github.com/spf13/cobra"
)

// monitorCmd runs a job exactly like buildCmd but always with the live
// tview monitor attached, grounded on the teacher's DoMonitor command
// (cmd/monitor.go) generalized from polling a BuildDB's ActiveRun to
// driver.Options.OnTick pushing trove-state snapshots directly, since
// this repo's driver and CLI share a process instead of a BuildDB file.
var monitorCmd = &cobra.Command{
	Use:   "monitor <job.json>",
	Short: "Run a job with the live trove-state monitor (spec.md 6)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		withMonitor = true
		return runBuild(cmd, args)
	},
}
