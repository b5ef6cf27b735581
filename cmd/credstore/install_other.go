//go:build !darwin

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the credstore daemon as a LaunchAgent (macOS only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errLaunchAgentUnsupported
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall the credstore LaunchAgent (macOS only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return errLaunchAgentUnsupported
	},
}

var errLaunchAgentUnsupported = errors.New("LaunchAgent installation is only available on macOS; run `credstore daemon` under your service manager instead")

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}
