// ABOUTME: Admin CLI commands for inspecting a voxrelay database
// ABOUTME: Root command, shared flags and store access helpers

// Package cli implements the voxrelay-admin CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voxrelay/voxrelay/internal/store"
)

var dbPath string

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "voxrelay-admin",
	Short: "Inspect and manage a voxrelay database",
	Long:  "Admin tooling for voxrelay: list conversations, dump history, manage prompts and watch queue depth. Operates directly on the relay's SQLite database.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $VOXRELAY_DB or ~/.local/share/voxrelay/voxrelay.db)")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("VOXRELAY_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "voxrelay", "voxrelay.db")
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
