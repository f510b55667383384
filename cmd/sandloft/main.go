// Sandloft
//
// Launch isolated microVM sandboxes that run autonomous coding agents
// against a repository, watch their output live, and recover their results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "sandloft",
	Short: "Sandloft - Sandboxed Coding Agent Sessions",
	Long: `Sandloft launches isolated microVM sandboxes that run autonomous coding
agents against a repository.

  sandloft serve                                   Start the server
  sandloft run --repo https://... "fix the bug"    Launch a session
  sandloft list                                    List sessions
  sandloft status <id>                             Check session status
  sandloft logs <id> --follow                      Stream session logs
  sandloft stop <id>                               Stop a session
  sandloft snapshot create <id>                    Snapshot a session's sandbox`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("SANDLOFT_SERVER", "http://localhost:7080"), "Sandloft server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
