package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

var (
	statusURL     string
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show slot usage of a running gateway",
	Long: `Queries /health on a running gateway and prints uptime and the
active/limit slot counts per request class.

Examples:
  koine status                              # Local gateway on :3100
  koine status --url http://gateway:3100    # Remote gateway`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "http://localhost:3100", "Base URL of the gateway")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Request timeout")
	rootCmd.AddCommand(statusCmd)
}

type slotStatus struct {
	Active int `json:"active"`
	Limit  int `json:"limit"`
}

type healthStatus struct {
	Status      string                `json:"status"`
	StartedAt   strfmt.DateTime       `json:"startedAt"`
	Uptime      string                `json:"uptime"`
	Concurrency map[string]slotStatus `json:"concurrency"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()

	health, err := fetchHealth(ctx, statusURL)
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), statusURL, health)
	return nil
}

func fetchHealth(ctx context.Context, baseURL string) (*healthStatus, error) {
	url := strings.TrimRight(baseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
	}
	var health healthStatus
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}

// printStatus renders the health summary, one line per request class.
func printStatus(w io.Writer, baseURL string, h *healthStatus) {
	state := color.GreenString(h.Status)
	if h.Status != "ok" {
		state = color.RedString(h.Status)
	}
	fmt.Fprintf(w, "Gateway %s: %s\n", baseURL, state)
	if started := time.Time(h.StartedAt); !started.IsZero() {
		fmt.Fprintf(w, "Started: %s (up %s)\n", started.Local().Format(time.DateTime), h.Uptime)
	}

	classes := make([]string, 0, len(h.Concurrency))
	width := 0
	for class := range h.Concurrency {
		classes = append(classes, class)
		width = max(width, len(class))
	}
	slices.Sort(classes)
	for _, class := range classes {
		s := h.Concurrency[class]
		fmt.Fprintf(w, "  %-*s  %s\n", width, class, slotColor(s)("Slots: %d/%d active", s.Active, s.Limit))
	}
}

// slotColor picks red for a disabled or saturated pool, yellow when busy.
func slotColor(s slotStatus) func(format string, a ...any) string {
	switch {
	case s.Limit == 0 || s.Active >= s.Limit:
		return color.RedString
	case s.Active > 0:
		return color.YellowString
	default:
		return color.GreenString
	}
}
