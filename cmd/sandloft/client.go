package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// apiSession mirrors the server's session JSON.
type apiSession struct {
	ID        string `json:"id"`
	SandboxID string `json:"sandbox_id"`
	Status    string `json:"status"`
	Runtime   string `json:"runtime"`
	PRUrl     string `json:"pr_url"`
	PRStatus  string `json:"pr_status"`
	Config    struct {
		RepoURL    string `json:"repo_url"`
		SnapshotID string `json:"snapshot_id"`
	} `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type apiStatusResult struct {
	Session         apiSession `json:"session"`
	LiveStatus      string     `json:"live_status"`
	LiveUnavailable bool       `json:"live_unavailable"`
}

type apiLogEntry struct {
	ID      int64  `json:"id"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var (
	runRepo     string
	runRef      string
	runSnapshot string
	runRuntime  string
	runModel    string
	logsFollow  bool
)

var runCmd = &cobra.Command{
	Use:   "run [plan]",
	Short: "Launch a new session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		plan := ""
		if len(args) > 0 {
			plan = args[0]
		}
		body := map[string]any{
			"repo_url":    runRepo,
			"ref":         runRef,
			"snapshot_id": runSnapshot,
			"runtime":     runRuntime,
			"model":       runModel,
			"plan":        plan,
		}
		var sess apiSession
		if err := apiCall(http.MethodPost, "/api/sessions", body, &sess); err != nil {
			return err
		}
		fmt.Printf("Session %s created (%s)\n", sess.ID, sess.Status)
		fmt.Printf("Follow with: sandloft logs %s --follow\n", sess.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var sessions []apiSession
		if err := apiCall(http.MethodGet, "/api/sessions", nil, &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions.")
			return nil
		}
		for _, s := range sessions {
			src := s.Config.RepoURL
			if src == "" {
				src = "snapshot:" + s.Config.SnapshotID
			}
			fmt.Printf("%-10s %-10s %-10s %s\n", s.ID, s.Status, s.Runtime, src)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Check session status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res apiStatusResult
		if err := apiCall(http.MethodGet, "/api/sessions/"+args[0], nil, &res); err != nil {
			return err
		}
		s := res.Session
		fmt.Printf("Session:  %s\n", s.ID)
		fmt.Printf("Status:   %s\n", s.Status)
		if res.LiveStatus != "" {
			fmt.Printf("Platform: %s\n", res.LiveStatus)
		}
		if res.LiveUnavailable {
			fmt.Println("Platform: unavailable (showing last-known state)")
		}
		if s.SandboxID != "" {
			fmt.Printf("Sandbox:  %s\n", s.SandboxID)
		}
		if s.PRUrl != "" {
			fmt.Printf("PR:       %s (%s)\n", s.PRUrl, s.PRStatus)
		}
		fmt.Printf("Updated:  %s\n", s.UpdatedAt.Local().Format(time.RFC822))
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Show or stream session logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if logsFollow {
			return followLogs(args[0])
		}
		var entries []apiLogEntry
		if err := apiCall(http.MethodGet, "/api/sessions/"+args[0]+"/logs", nil, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("[%s] %s\n", e.Level, e.Message)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sess apiSession
		if err := apiCall(http.MethodPost, "/api/sessions/"+args[0]+"/stop", nil, &sess); err != nil {
			return err
		}
		fmt.Printf("Session %s is %s\n", sess.ID, sess.Status)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runRepo, "repo", "", "git repository URL")
	runCmd.Flags().StringVar(&runRef, "ref", "", "git revision (default main)")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "snapshot id to restore from")
	runCmd.Flags().StringVar(&runRuntime, "runtime", "", "execution runtime (default from server)")
	runCmd.Flags().StringVar(&runModel, "model", "", "agent model")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream live output")

	rootCmd.AddCommand(runCmd, listCmd, statusCmd, logsCmd, stopCmd)
}

// followLogs consumes the server's SSE stream and prints entries until the
// session completes or the connection drops.
func followLogs(id string) error {
	resp, err := http.Get(serverURL + "/api/sessions/" + id + "/stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	type event struct {
		Type   string       `json:"type"`
		Status string       `json:"status"`
		Entry  *apiLogEntry `json:"entry"`
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 256*1024), 256*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "connected":
			fmt.Printf("-- connected (%s)\n", ev.Status)
		case "complete":
			fmt.Printf("-- session %s\n", ev.Status)
			return nil
		default:
			if ev.Entry != nil {
				fmt.Printf("[%s] %s\n", ev.Entry.Level, ev.Entry.Message)
			}
		}
	}
	return sc.Err()
}

// apiCall performs a JSON request against the server.
func apiCall(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("%s", apiErr.Error)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
