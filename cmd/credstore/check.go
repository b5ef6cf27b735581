package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/credstore/internal/config"
)

type checkResult struct {
	Path    string `json:"path"`
	Backend string `json:"backend,omitempty"`
	Exists  bool   `json:"exists"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect credstore configuration",
	// Skip the root hook, which refuses to start with an invalid config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var configCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Validate a config file",
	Long:  "Parse and validate a credstore config file. Checks the given file or the default (~/.credstore/config.yaml).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	configCheckCmd.Flags().Bool("json", false, "output as JSON")
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func checkConfig(path string) checkResult {
	r := checkResult{Path: path}
	if _, err := os.Stat(path); err == nil {
		r.Exists = true
	}

	c, err := config.Load(path)
	if err == nil {
		err = c.Validate()
	}
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Backend = c.Backend
	r.Valid = true
	return r
}

func runCheck(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")

	target := configPath
	if len(args) > 0 {
		target = args[0]
	}

	r := checkConfig(target)
	if jsonOut {
		if err := printJSON(r); err != nil {
			return err
		}
	} else if r.Valid {
		note := ""
		if !r.Exists {
			note = ", file missing, defaults apply"
		}
		fmt.Printf("OK    %s (backend %s%s)\n", r.Path, r.Backend, note)
	} else {
		fmt.Fprintf(os.Stderr, "FAIL  %s\n      %v\n", r.Path, r.Error)
	}

	if !r.Valid {
		return fmt.Errorf("config %s failed validation", target)
	}
	return nil
}
