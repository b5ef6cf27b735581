package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benaskins/credstore/internal/dispatch"
	"github.com/benaskins/credstore/internal/keychain"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets in the OS secret store",
}

// runTask executes one task in a fresh CLI session and returns its result,
// with a fatal outcome turned into an error.
func runTask(ctx context.Context, t dispatch.Task) (dispatch.Result, error) {
	s, err := openSession("cli", nil)
	if err != nil {
		return dispatch.Result{}, err
	}
	defer s.Close()

	r, err := s.Do(ctx, t)
	if err != nil {
		return r, err
	}
	if r.Err != nil {
		return r, fmt.Errorf("%s: %w", t, r.Err)
	}
	return r, nil
}

// readSecret reads a secret from a hidden prompt on a terminal, or stdin
// otherwise. The caller owns the returned buffer and must wipe it.
func readSecret() ([]byte, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "Enter secret value: ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading password: %w", err)
		}
		return b, nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	n := len(b)
	for n > 0 && (b[n-1] == '\n' || b[n-1] == '\r') {
		n--
	}
	memguard.WipeBytes(b[n:])
	return b[:n], nil
}

var secretSetCmd = &cobra.Command{
	Use:   "set <service> <account> [secret]",
	Short: "Store a secret, replacing any existing one",
	Long:  "Store a secret. If the secret is omitted it is read from a hidden prompt, or from stdin when piped.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, account := args[0], args[1]

		var secret string
		if len(args) == 3 {
			secret = args[2]
		} else {
			b, err := readSecret()
			if err != nil {
				return err
			}
			secret = string(b)
			memguard.WipeBytes(b)
		}

		if _, err := runTask(cmd.Context(), dispatch.SetTask(service, account, secret)); err != nil {
			return err
		}
		fmt.Printf("Secret for %s/%s stored\n", service, account)
		return nil
	},
}

var secretGetCmd = &cobra.Command{
	Use:   "get <service> <account>",
	Short: "Print a secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := runTask(cmd.Context(), dispatch.GetTask(args[0], args[1]))
		if err != nil {
			return err
		}
		secret, ok := r.Secret()
		if !ok {
			return fmt.Errorf("no secret stored for %s/%s", args[0], args[1])
		}
		fmt.Println(secret)
		return nil
	},
}

var secretFindCmd = &cobra.Command{
	Use:   "find <service>",
	Short: "Print the first secret stored for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := runTask(cmd.Context(), dispatch.FindSecretTask(args[0]))
		if err != nil {
			return err
		}
		secret, ok := r.Secret()
		if !ok {
			return fmt.Errorf("no secret stored for %s", args[0])
		}
		fmt.Println(secret)
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:     "list <service>",
	Short:   "List the accounts stored for a service",
	Aliases: []string{"ls"},
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		r, err := runTask(cmd.Context(), dispatch.FindCredentialsTask(args[0]))
		if err != nil {
			return err
		}
		creds := r.Credentials()

		if jsonOut {
			return printJSON(creds)
		}
		if len(creds) == 0 {
			fmt.Printf("No secrets stored for %s\n", args[0])
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tACCOUNT\tATTRIBUTES")
		for _, c := range creds {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Service, c.Account, formatAttributes(c.Attributes))
		}
		w.Flush()
		return nil
	},
}

func formatAttributes(a keychain.Attributes) string {
	if a.Len() == 0 {
		return "-"
	}
	parts := make([]string, 0, a.Len())
	a.Each(func(k, v string) { parts = append(parts, k+"="+v) })
	return strings.Join(parts, " ")
}

var secretDeleteCmd = &cobra.Command{
	Use:     "delete <service> <account>",
	Short:   "Remove a secret",
	Aliases: []string{"rm"},
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := runTask(cmd.Context(), dispatch.DeleteTask(args[0], args[1]))
		if err != nil {
			return err
		}
		if !r.Deleted() {
			fmt.Printf("No secret stored for %s/%s\n", args[0], args[1])
			return nil
		}
		fmt.Printf("Secret for %s/%s deleted\n", args[0], args[1])
		return nil
	},
}

var secretRotateCmd = &cobra.Command{
	Use:   "rotate <service> <account> <command>",
	Short: "Replace a secret with the output of a command",
	Long:  "Run a shell command and store its stdout as the new secret. A failing command leaves the current secret in place.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if remote {
			return fmt.Errorf("rotate runs the command locally and cannot be used with --remote")
		}
		store, closeStore, err := openAuditedStore("cli")
		if err != nil {
			return err
		}
		defer closeStore()

		if out := store.Rotate(args[0], args[1], args[2]); !out.IsSuccess() {
			return fmt.Errorf("rotating %s/%s: %s", args[0], args[1], out.Message())
		}
		fmt.Printf("Secret for %s/%s rotated\n", args[0], args[1])
		return nil
	},
}

func init() {
	secretListCmd.Flags().Bool("json", false, "output as JSON")

	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretFindCmd)
	secretCmd.AddCommand(secretListCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretRotateCmd)
	rootCmd.AddCommand(secretCmd)
}
