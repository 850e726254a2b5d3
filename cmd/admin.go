package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend sessionId...",
	Short: "Mark nodes ineligible for new work (spec.md 6)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuspendResume(true),
}

var resumeCmd = &cobra.Command{
	Use:   "resume sessionId...",
	Short: "Reverse a prior suspend (spec.md 6)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSuspendResume(false),
}

func runSuspendResume(suspend bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fleet, err := loadFleet(cfg)
		if err != nil {
			return adminFailure("load fleet state: %w", err)
		}

		var opErr error
		if suspend {
			opErr = fleet.Suspend(args)
		} else {
			opErr = fleet.Resume(args)
		}

		// Persist regardless of opErr: a partial success (some ids known,
		// some not) still suspends/resumes the known ids, matching
		// Fleet.setSuspended's best-effort-per-id behavior.
		if err := saveFleet(cfg, fleet); err != nil {
			return adminFailure("save fleet state: %w", err)
		}

		if opErr != nil {
			return adminFailure("%w", opErr)
		}

		verb := "suspended"
		if !suspend {
			verb = "resumed"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", verb, args)
		return nil
	}
}
