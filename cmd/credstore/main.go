package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/credstore/internal/config"
)

var (
	configPath  string
	backendFlag string
	logLevel    string
	remote      bool
	remoteAddr  string

	cfg      *config.Config
	levelVar = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:           "credstore",
	Short:         "Store and look up secrets in the OS secret store",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if backendFlag != "" {
			c.Backend = backendFlag
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid config %s: %w", configPath, err)
		}
		cfg = c
		if remoteAddr != "" {
			remote = true
		}

		level, _ := config.ParseLevel(c.LogLevel)
		levelVar.Set(level)
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "secret store backend (auto, keychain, keyring, secret-service, memory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "send operations to the running daemon")
	rootCmd.PersistentFlags().StringVar(&remoteAddr, "remote-addr", "", "daemon TCP address from --api-addr (implies --remote)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
