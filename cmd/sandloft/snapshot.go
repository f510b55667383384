package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type apiSnapshot struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	SourceSandboxID string    `json:"source_sandbox_id"`
	Status          string    `json:"status"`
	SizeBytes       int64     `json:"size_bytes"`
	ExpiresAt       time.Time `json:"expires_at"`
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage sandbox snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Snapshot a running session's sandbox (stops the sandbox)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var snap apiSnapshot
		if err := apiCall(http.MethodPost, "/api/sessions/"+args[0]+"/snapshot", nil, &snap); err != nil {
			return err
		}
		fmt.Printf("Snapshot %s created, expires %s\n", snap.ID, snap.ExpiresAt.Local().Format(time.RFC822))
		fmt.Printf("Restore with: sandloft run --snapshot %s\n", snap.ID)
		return nil
	},
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snaps []apiSnapshot
		if err := apiCall(http.MethodGet, "/api/snapshots", nil, &snaps); err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range snaps {
			fmt.Printf("%-24s %-10s session=%-10s %6.1f MB  expires %s\n",
				s.ID, s.Status, s.SessionID,
				float64(s.SizeBytes)/(1024*1024),
				s.ExpiresAt.Local().Format("2006-01-02"))
		}
		return nil
	},
}

var snapshotRmCmd = &cobra.Command{
	Use:   "rm <snapshot-id>",
	Short: "Delete a snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiCall(http.MethodDelete, "/api/snapshots/"+args[0], nil, nil); err != nil {
			return err
		}
		fmt.Println("Snapshot deleted.")
		return nil
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd, snapshotListCmd, snapshotRmCmd)
	rootCmd.AddCommand(snapshotCmd)
}
