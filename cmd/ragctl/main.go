// Package main implements ragctl, a CLI for the ragd HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
)

var (
	// serverURL is the base URL for the ragd HTTP server
	serverURL string
	// tenantID scopes every document and query command
	tenantID string
	timeout  time.Duration
	version  = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "CLI for the ragd HTTP API",
	Long: `ragctl talks to a running ragd server. It uploads documents, lists and
deletes them, and asks questions against a tenant's documents.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("RAGD_SERVER", "http://localhost:9191"), "ragd server URL")
	rootCmd.PersistentFlags().StringVarP(&tenantID, "tenant", "t", os.Getenv("RAGD_TENANT"), "tenant id")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "request timeout")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(retrieveCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check ragd server health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var resp ragdhttp.HealthResponse
		if err := newClient().do(http.MethodGet, "/health", nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\nServer URL: %s\n", resp.Status, serverURL)
		return nil
	},
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireTenant() error {
	if tenantID == "" {
		return fmt.Errorf("--tenant (or RAGD_TENANT) is required")
	}
	return nil
}

func tenantPath(suffix string) string {
	return "/api/v1/tenants/" + url.PathEscape(tenantID) + suffix
}

// client is a thin JSON client for the ragd API.
type client struct {
	base string
	http *http.Client
}

func newClient() *client {
	return &client{base: serverURL, http: &http.Client{Timeout: timeout}}
}

// do sends body as JSON and decodes a 2xx response into out. Non-2xx
// responses are returned as errors carrying the server's message.
func (c *client) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr ragdhttp.ErrorResponse
		raw, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned status %d: %s (%s)", resp.StatusCode, apiErr.Error, apiErr.Kind)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
