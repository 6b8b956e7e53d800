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

// Exit codes for the query command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitRejected    = 2
	ExitUnavailable = 3
)

var (
	querySandboxID string
	queryText      string
	queryAgent     string
	queryServerURL string
	queryAPIKey    string
	queryTimeout   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Send a one-shot query to a trial sandbox",
	Long: `Send a query to a trial sandbox on a running server.
The server checks the trial lifecycle, selects an agent by keyword (or honors
an explicit --agent), and executes the query in the sandbox's isolated
environment.

Examples:
  cockpitd query --sandbox <id> -q "schedule a technician for tomorrow"
  cockpitd query --sandbox <id> -q "build a quote" --agent quote_builder

Exit codes:
  0  success
  1  execution failure
  2  rejected (frozen or expired trial)
  3  server unavailable`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&querySandboxID, "sandbox", "", "sandbox ID (required)")
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "query text (required)")
	queryCmd.Flags().StringVar(&queryAgent, "agent", "", "explicit agent name (default: keyword selection)")
	queryCmd.Flags().StringVar(&queryServerURL, "server-url", "http://localhost:8080", "runtime HTTP API URL")
	queryCmd.Flags().StringVar(&queryAPIKey, "api-key", "", "API key (or COCKPIT_API_KEY env)")
	queryCmd.Flags().IntVar(&queryTimeout, "timeout", 120, "timeout in seconds")

	_ = queryCmd.MarkFlagRequired("sandbox")
	_ = queryCmd.MarkFlagRequired("query")
}

func runQuery(_ *cobra.Command, _ []string) error {
	apiKey := goutils.Env("COCKPIT_API_KEY", queryAPIKey)
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required (use --api-key or set COCKPIT_API_KEY)")
		os.Exit(ExitRejected)
	}
	serverURL := goutils.Env("COCKPIT_SERVER_URL", queryServerURL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(queryTimeout)*time.Second)
	defer cancel()

	reqBody, _ := json.Marshal(map[string]any{
		"sandbox_id": querySandboxID,
		"query":      queryText,
		"agent":      queryAgent,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", serverURL+"/v1/query", bytes.NewReader(reqBody))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitFailure)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", serverURL, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			Response        string `json:"response"`
			AgentUsed       string `json:"agent_used"`
			ExecutionTimeMs int64  `json:"execution_time_ms"`
			TokensUsed      int    `json:"tokens_used"`
			Success         bool   `json:"success"`
			Error           string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &result)

		fmt.Println(result.Response)
		fmt.Fprintf(os.Stderr, "\n[agent=%s time=%dms tokens=%d]\n",
			result.AgentUsed, result.ExecutionTimeMs, result.TokensUsed)

		if !result.Success {
			switch result.Error {
			case "sandbox_frozen", "sandbox_expired":
				os.Exit(ExitRejected)
			default:
				os.Exit(ExitFailure)
			}
		}
		os.Exit(ExitSuccess)

	case http.StatusNotFound:
		fmt.Fprintln(os.Stderr, "Error: sandbox not found")
		os.Exit(ExitFailure)

	case http.StatusUnauthorized:
		fmt.Fprintln(os.Stderr, "Error: unauthorized (check API key)")
		os.Exit(ExitRejected)

	case http.StatusTooManyRequests:
		fmt.Fprintln(os.Stderr, "Error: rate limited, try again later")
		os.Exit(ExitRejected)

	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)

	default:
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(ExitFailure)
	}

	return nil
}
