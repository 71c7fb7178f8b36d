package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type livenessProbe struct {
	Alive  bool    `json:"alive"`
	Uptime float64 `json:"uptime"`
}

// runHealthcheck is a thin CLI probe for /health/liveness, meant for
// container orchestrators that shell out to the binary rather than issuing
// their own HTTP request.
func runHealthcheck(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/health/liveness")
	if err != nil {
		return fmt.Errorf("liveness probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("liveness probe returned status %d", resp.StatusCode)
	}

	var probe livenessProbe
	if err := json.NewDecoder(resp.Body).Decode(&probe); err != nil {
		return fmt.Errorf("decode liveness response: %w", err)
	}
	if !probe.Alive {
		return fmt.Errorf("provider reports not alive after %s uptime", time.Duration(probe.Uptime*float64(time.Second)))
	}

	fmt.Printf("alive, uptime %.0fs\n", probe.Uptime)
	return nil
}
