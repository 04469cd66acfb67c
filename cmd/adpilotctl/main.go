package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverURL string
	brandID   string
	timeout   time.Duration

	// Command flags
	statusFilter string
	killSwitch   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "adpilotctl",
		Short: "Operator CLI for the adpilot experiment automation server",
		Long: `Operational tooling for marketing experiment automation.
Inspects experiments, triggers dry-run or live evaluations, and manages
the guardrail circuit breaker and the global kill switch.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "adpilot server base URL")
	rootCmd.PersistentFlags().StringVarP(&brandID, "brand", "b", "default", "Brand ID (sent as X-Brand-ID)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "HTTP request timeout")

	// Subcommands
	rootCmd.AddCommand(experimentsCmd())
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(guardrailCmd())
	rootCmd.AddCommand(killSwitchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// experimentsCmd lists experiments for a brand
func experimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiments",
		Short: "List experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/v1/experiments"
			if statusFilter != "" {
				path += "?status=" + url.QueryEscape(statusFilter)
			}

			var resp struct {
				Experiments []struct {
					ID      string `json:"id"`
					Name    string `json:"name"`
					Status  string `json:"status"`
					Metrics struct {
						TotalImpressions int64 `json:"total_impressions"`
						TotalConversions int64 `json:"total_conversions"`
					} `json:"metrics"`
					WinnerVariantID string `json:"winner_variant_id"`
					AutoOptimize    bool   `json:"auto_optimize"`
				} `json:"experiments"`
			}
			if err := apiCall(http.MethodGet, path, &resp); err != nil {
				return err
			}

			fmt.Printf("%-14s %-30s %-10s %12s %12s %6s %s\n",
				"ID", "NAME", "STATUS", "IMPRESSIONS", "CONVERSIONS", "AUTO", "WINNER")
			for _, e := range resp.Experiments {
				auto := "no"
				if e.AutoOptimize {
					auto = "yes"
				}
				fmt.Printf("%-14s %-30s %-10s %12d %12d %6s %s\n",
					e.ID, truncate(e.Name, 30), e.Status,
					e.Metrics.TotalImpressions, e.Metrics.TotalConversions,
					auto, e.WinnerVariantID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (draft|running|paused|completed)")

	return cmd
}

// evaluateCmd runs the optimizer against one experiment
func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate <experiment-id>",
		Short: "Run automation rules against an experiment",
		Long: `Asks the server to evaluate an experiment against the automation
policy. With --kill-switch, decisions are computed and returned but
nothing is written or sent to the ad platform.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/v1/experiments/%s/evaluate", url.PathEscape(args[0]))
			if killSwitch {
				path += "?kill_switch=true"
			}

			var resp struct {
				KillSwitch bool `json:"kill_switch"`
				Decisions  []struct {
					Action       string  `json:"action"`
					VariantID    string  `json:"variant_id"`
					Reasoning    string  `json:"reasoning"`
					Executed     bool    `json:"executed"`
					Significance float64 `json:"significance"`
					Error        string  `json:"error"`
				} `json:"decisions"`
			}
			if err := apiCall(http.MethodPost, path, &resp); err != nil {
				return err
			}

			if resp.KillSwitch {
				fmt.Printf("DRY RUN (kill switch active): no changes were made\n\n")
			}
			for _, d := range resp.Decisions {
				fmt.Printf("Action:    %s\n", d.Action)
				if d.VariantID != "" {
					fmt.Printf("Variant:   %s\n", d.VariantID)
				}
				if d.Significance > 0 {
					fmt.Printf("Confidence: %.3f\n", d.Significance)
				}
				fmt.Printf("Executed:  %v\n", d.Executed)
				fmt.Printf("Reasoning: %s\n", d.Reasoning)
				if d.Error != "" {
					fmt.Printf("Error:     %s\n", d.Error)
				}
				fmt.Printf("\n")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&killSwitch, "kill-switch", false, "Dry run: log decisions without executing them")

	return cmd
}

// guardrailCmd inspects and resets the circuit breaker
func guardrailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Inspect or reset the actuator guardrail",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show circuit breaker state and rejection counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap guardrailSnapshot
			if err := apiCall(http.MethodGet, "/v1/guardrail/status", &snap); err != nil {
				return err
			}
			printGuardrail(&snap)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Close the circuit breaker after operator review",
		Long: `Closes the circuit breaker and clears the consecutive failure count.
Only do this after confirming the underlying actuator failures are fixed;
automation resumes immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("This re-enables automated actions. Confirm? (yes/no): ")
			var confirm string
			fmt.Scanln(&confirm)
			if confirm != "yes" {
				return fmt.Errorf("reset aborted")
			}

			var snap guardrailSnapshot
			if err := apiCall(http.MethodPost, "/v1/guardrail/reset", &snap); err != nil {
				return err
			}
			fmt.Printf("Circuit breaker reset.\n\n")
			printGuardrail(&snap)
			return nil
		},
	})

	return cmd
}

// killSwitchCmd flips the global dry-run switch
func killSwitchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "killswitch [on|off]",
		Short: "Show or set the global auto-optimize kill switch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Enabled bool `json:"enabled"`
			}

			if len(args) == 0 {
				if err := apiCall(http.MethodGet, "/v1/killswitch", &resp); err != nil {
					return err
				}
			} else {
				var enabled string
				switch args[0] {
				case "on":
					enabled = "true"
				case "off":
					enabled = "false"
				default:
					return fmt.Errorf("argument must be 'on' or 'off', got %q", args[0])
				}
				if err := apiCall(http.MethodPost, "/v1/killswitch?enabled="+enabled, &resp); err != nil {
					return err
				}
			}

			if resp.Enabled {
				fmt.Printf("Kill switch: ON (all evaluations are dry runs)\n")
			} else {
				fmt.Printf("Kill switch: OFF (automation live)\n")
			}
			return nil
		},
	}
}

type guardrailSnapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	FailureThreshold    int       `json:"failure_threshold"`
	LastStateChange     time.Time `json:"last_state_change"`
	RejectedByCircuit   int64     `json:"rejected_by_circuit"`
	RejectedByRate      int64     `json:"rejected_by_rate"`
}

func printGuardrail(s *guardrailSnapshot) {
	fmt.Printf("=== Guardrail Status ===\n")
	fmt.Printf("Circuit breaker:      %s\n", s.State)
	fmt.Printf("Consecutive failures: %d/%d\n", s.ConsecutiveFailures, s.FailureThreshold)
	fmt.Printf("Last state change:    %s\n", s.LastStateChange.Format(time.RFC3339))
	fmt.Printf("Rejected by circuit:  %d\n", s.RejectedByCircuit)
	fmt.Printf("Rejected by rate:     %d\n", s.RejectedByRate)
}

// apiCall performs one request against the server and decodes the JSON
// response into out (which may be nil for status-only calls).
func apiCall(method, path string, out interface{}) error {
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Brand-ID", brandID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
