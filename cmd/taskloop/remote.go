package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/GoCodeAlone/taskloop/task"
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:9090"

var (
	remoteServer string
	remoteToken  string
)

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Talk to a running taskloop server",
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteServer, "server", defaultServer, "taskloop server URL")
	remoteCmd.PersistentFlags().StringVar(&remoteToken, "token", os.Getenv("TASKLOOP_TOKEN"), "JWT auth token (or $TASKLOOP_TOKEN)")

	remoteCmd.AddCommand(
		&cobra.Command{
			Use:   "login [username] [password]",
			Short: "Log in and print a token",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient().cmdLogin(cmd.OutOrStdout(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show server status",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return newClient().cmdStatus(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "runs",
			Short: "List runs on the server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return newClient().cmdRuns(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "start [objective]",
			Short: "Start a run on the server",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient().cmdStart(cmd.OutOrStdout(), strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "show [run-id]",
			Short: "Show a run on the server",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient().cmdShow(cmd.OutOrStdout(), args[0])
			},
		},
		&cobra.Command{
			Use:   "cancel [run-id]",
			Short: "Cancel an active run",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return newClient().cmdCancel(cmd.OutOrStdout(), args[0])
			},
		},
	)
}

func newClient() *Client {
	return &Client{
		BaseURL:    strings.TrimRight(remoteServer, "/"),
		Token:      remoteToken,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Client holds HTTP client state for remote commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// do sends a request and decodes a JSON response into v (may be nil).
func (c *Client) do(method, path string, body io.Reader, v any) error {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, nil, v)
}

// post sends v as JSON and decodes the response into out (may be nil).
func (c *Client) post(path string, v any, out any) error {
	var body io.Reader
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	return c.do(http.MethodPost, path, body, out)
}

// --- commands ---

func (c *Client) cmdLogin(w io.Writer, user, pass string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post("/api/auth/login", map[string]string{"username": user, "password": pass}, &resp); err != nil {
		return err
	}
	fmt.Fprintln(w, resp.Token)
	return nil
}

func (c *Client) cmdStatus(w io.Writer) error {
	var result struct {
		Status     string `json:"status"`
		Version    string `json:"version"`
		ActiveRuns int    `json:"active_runs"`
	}
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Fprintf(w, "status:      %s\n", result.Status)
	fmt.Fprintf(w, "version:     %s\n", result.Version)
	fmt.Fprintf(w, "active runs: %d\n", result.ActiveRuns)
	return nil
}

func (c *Client) cmdRuns(w io.Writer) error {
	var runs []*task.Run
	if err := c.get("/api/runs", &runs); err != nil {
		return err
	}
	printRuns(w, runs)
	return nil
}

func (c *Client) cmdStart(w io.Writer, objective string) error {
	var r task.Run
	if err := c.post("/api/runs", map[string]string{"objective": objective}, &r); err != nil {
		return err
	}
	fmt.Fprintf(w, "started run %s\n", r.ID)
	return nil
}

func (c *Client) cmdShow(w io.Writer, id string) error {
	var r task.Run
	if err := c.get("/api/runs/"+url.PathEscape(id), &r); err != nil {
		return err
	}
	printRun(w, &r)
	return nil
}

func (c *Client) cmdCancel(w io.Writer, id string) error {
	if err := c.post("/api/runs/"+url.PathEscape(id)+"/cancel", nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(w, "run %s cancelled\n", id)
	return nil
}

// --- helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
