package keychain

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Rotate runs command, takes its stdout as the new secret and writes it
// with SetSecret. If the command fails nothing is written.
func Rotate(s Store, service, account, command string) Outcome {
	value, err := runRotationCommand(command)
	if err != nil {
		return Failedf("rotation command failed: %v", err)
	}
	return s.SetSecret(service, account, value)
}

// runRotationCommand executes a rotation script and captures its stdout.
// The script must output the new secret value to stdout (and only the value).
func runRotationCommand(command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", err
	}
	return strings.TrimRight(string(output), "\n"), nil
}
