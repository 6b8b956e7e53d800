package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
)

var (
	sweepServerURL string
	sweepAPIKey    string
	sweepTimeout   int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Trigger one lifecycle sweep on a running server",
	Long: `Trigger an immediate lifecycle sweep over every registered sandbox.
The server evaluates each trial, sends warnings, freezes trials past their
expiry, and deletes frozen trials past the grace period.

Example:
  cockpitd sweep --api-key $COCKPIT_API_KEY`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepServerURL, "server-url", "http://localhost:8080", "runtime HTTP API URL")
	sweepCmd.Flags().StringVar(&sweepAPIKey, "api-key", "", "API key (or COCKPIT_API_KEY env)")
	sweepCmd.Flags().IntVar(&sweepTimeout, "timeout", 60, "timeout in seconds")
}

func runSweep(_ *cobra.Command, _ []string) error {
	apiKey := goutils.Env("COCKPIT_API_KEY", sweepAPIKey)
	if apiKey == "" {
		return fmt.Errorf("API key required (use --api-key or set COCKPIT_API_KEY)")
	}
	serverURL := goutils.Env("COCKPIT_SERVER_URL", sweepServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(sweepTimeout)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/sweep", bytes.NewReader(nil))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Checked int `json:"checked"`
		Warned  int `json:"warned"`
		Frozen  int `json:"frozen"`
		Deleted int `json:"deleted"`
	}
	_ = json.Unmarshal(body, &result)
	fmt.Fprintf(os.Stdout, "checked=%d warned=%d frozen=%d deleted=%d\n",
		result.Checked, result.Warned, result.Frozen, result.Deleted)
	return nil
}
