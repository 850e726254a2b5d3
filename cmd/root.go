package cmd

import (
	"errors"
	"fmt"
	"os"

	"rmakedrv/config"

	"github.com/spf13/cobra"
)

var (
	configDir string
	profile   string
)

var rootCmd = &cobra.Command{
	Use:           "rmakedrv",
	Short:         "rmakedrv drives distributed package builds",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "configuration directory (default: /etc/rmakedrv, else /usr/local/etc/rmakedrv)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile section to apply on top of [Global]")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(monitorCmd)
}

// exitAdminFailure wraps an error that should produce exit code 2, spec.md
// 6's "2 on admin-operation failure" (status/suspend/resume commands that
// reach a live node table but fail the operation itself, as opposed to a
// plain usage error).
type exitAdminFailure struct{ err error }

func (e *exitAdminFailure) Error() string { return e.err.Error() }
func (e *exitAdminFailure) Unwrap() error { return e.err }

func adminFailure(format string, args ...any) error {
	return &exitAdminFailure{err: fmt.Errorf(format, args...)}
}

// loadConfig is the shared config.LoadConfig + Validate call every
// subcommand makes before doing anything else.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configDir, profile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Execute runs the CLI and returns the process exit code, matching
// spec.md 6's "0 success, 1 usage error, 2 admin-operation failure"
// contract. main.go calls os.Exit(cmd.Execute()).
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	fmt.Fprintln(os.Stderr, "rmakedrv:", err)

	var af *exitAdminFailure
	if errors.As(err, &af) {
		return 2
	}
	return 1
}
