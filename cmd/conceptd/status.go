package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/conceptd/internal/http"
)

func newStatusCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health and active sessions of a running conceptd",
		Long: `Query the HTTP endpoints of a running conceptd.

Examples:
  # Check the local instance
  conceptd status

  # Check another instance
  conceptd status --server http://conceptd.internal:9191`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, serverURL)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:9191", "conceptd server URL")
	return cmd
}

func runStatus(cmd *cobra.Command, serverURL string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	var health httpserver.HealthResponse
	if err := getJSON(client, serverURL+"/health", &health); err != nil {
		return err
	}
	var sessions httpserver.SessionsResponse
	if err := getJSON(client, serverURL+"/api/v1/sessions", &sessions); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Server Status: %s\n", health.Status)
	fmt.Fprintf(out, "Server URL: %s\n", serverURL)
	if health.Telemetry != nil && health.Telemetry.Degraded {
		fmt.Fprintf(out, "Telemetry: degraded (%v)\n", health.Telemetry.Reasons)
	}
	fmt.Fprintf(out, "Active Sessions: %d\n", sessions.Count)
	if sessions.Count == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSESSION\tSEGMENTS\tCYCLES\tFAILURES\tCONCEPTS\tPENDING\tIN FLIGHT")
	for _, s := range sessions.Sessions {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%t\n",
			s.SessionID, s.Segments, s.Cycles, s.Failures, s.Concepts, s.PendingChars, s.InFlight)
	}
	return w.Flush()
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
