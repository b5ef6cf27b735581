package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benaskins/credstore/internal/config"
)

// credstoreHome returns the credstore home directory (~/.credstore),
// creating it if needed.
func credstoreHome() (string, error) {
	dir := config.Home()
	if dir == "" {
		return "", fmt.Errorf("cannot determine home directory")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func defaultSocketPath() string {
	dir := config.Home()
	if dir == "" {
		return filepath.Join(os.TempDir(), "credstore.sock")
	}
	return filepath.Join(dir, "credstore.sock")
}
