package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hermitdroid/hermitdroid/internal/clifmt"
)

// These commands talk to a running gateway over its HTTP surface.
// Confirmation has to go through the daemon: approval dispatches on the
// device, and only the daemon holds the gate.

var confirmApprove bool
var confirmDeny bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running gateway's status",
	RunE: func(*cobra.Command, []string) error {
		var out map[string]any
		if err := daemonGet("/status", &out); err != nil {
			return err
		}
		for _, k := range []string{"killed", "dry_run", "pending_count", "foreground_app", "uptime_seconds"} {
			if v, ok := out[k]; ok {
				fmt.Printf("%s: %v\n", clifmt.Key(k), v)
			}
		}
		return nil
	},
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List actions waiting for approval",
	RunE: func(*cobra.Command, []string) error {
		var out struct {
			Pending []struct {
				ID        string   `json:"id"`
				Action    string   `json:"action"`
				Tier      string   `json:"tier"`
				Reasons   []string `json:"reasons"`
				ExpiresAt string   `json:"expires_at"`
			} `json:"pending"`
		}
		if err := daemonGet("/pending", &out); err != nil {
			return err
		}
		if len(out.Pending) == 0 {
			fmt.Println("nothing pending")
			return nil
		}
		for _, p := range out.Pending {
			fmt.Printf("%s  %s  %s\n", clifmt.Key(p.ID), p.Tier, p.Action)
			if len(p.Reasons) > 0 {
				fmt.Println(clifmt.Dim("  " + strings.Join(p.Reasons, "; ")))
			}
			fmt.Println(clifmt.Dim("  expires " + p.ExpiresAt))
		}
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm [pending-id]",
	Short: "Approve or deny a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if confirmApprove == confirmDeny {
			return fmt.Errorf("pass exactly one of --approve or --deny")
		}
		var out struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := daemonPost("/confirm/"+args[0], map[string]any{"approve": confirmApprove, "actor": "cli"}, &out); err != nil {
			return err
		}
		switch out.Status {
		case "approved":
			fmt.Println(clifmt.Success(out.ID + " approved and dispatched"))
		case "denied":
			fmt.Println(out.ID + " denied")
		default:
			fmt.Println(clifmt.Warn(out.ID + " " + out.Status))
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Send a message to the agent; it handles it on the next tick",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := daemonPost("/chat", map[string]any{"message": strings.Join(args, " ")}, nil); err != nil {
			return err
		}
		fmt.Println("queued")
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Engage the kill switch: nothing dispatches until resume",
	RunE: func(*cobra.Command, []string) error {
		if err := daemonPost("/kill", map[string]any{}, nil); err != nil {
			return err
		}
		fmt.Println(clifmt.Warn("kill switch engaged"))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Release the kill switch",
	RunE: func(*cobra.Command, []string) error {
		if err := daemonPost("/resume", map[string]any{}, nil); err != nil {
			return err
		}
		fmt.Println(clifmt.Success("resumed"))
		return nil
	},
}

func daemonURL(path string) string {
	return "http://" + serverAddrFromViper() + path
}

func daemonGet(path string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(daemonURL(path))
	if err != nil {
		return fmt.Errorf("is the gateway running? %w", err)
	}
	defer resp.Body.Close()
	return decodeDaemonResponse(resp, out)
}

func daemonPost(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(daemonURL(path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("is the gateway running? %w", err)
	}
	defer resp.Body.Close()
	return decodeDaemonResponse(resp, out)
}

func decodeDaemonResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func init() {
	confirmCmd.Flags().BoolVar(&confirmApprove, "approve", false, "approve and dispatch the action")
	confirmCmd.Flags().BoolVar(&confirmDeny, "deny", false, "deny the action")
}
