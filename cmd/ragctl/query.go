package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/ragd/internal/fusion"
	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
)

var (
	queryMode  string
	queryDocID string
	jsonOutput bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question against a tenant's documents",
	Long: `Ask a question. In hybrid mode (the default) the web is searched when no
document is relevant enough.

Examples:
  ragctl ask --tenant acme "What is the refund policy?"
  ragctl ask --tenant acme --mode document_only --doc handbook.pdf "Who approves leave?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve <question>",
	Short: "Show the context that would be used to answer a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRetrieve,
}

func init() {
	for _, cmd := range []*cobra.Command{askCmd, retrieveCmd} {
		cmd.Flags().StringVar(&queryMode, "mode", "", "hybrid, document_only or web_only")
		cmd.Flags().StringVar(&queryDocID, "doc", "", "restrict document search to one document")
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the raw JSON response")
	}
}

func queryRequest(args []string) ragdhttp.QueryRequest {
	return ragdhttp.QueryRequest{
		Question: strings.Join(args, " "),
		Mode:     queryMode,
		DocID:    queryDocID,
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	var resp ragdhttp.AskResponse
	if err := newClient().do(http.MethodPost, tenantPath("/ask"), queryRequest(args), &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, resp.Answer)
	printSources(out, resp.Preview, resp.Provenance)
	return nil
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	var resp ragdhttp.RetrieveResponse
	if err := newClient().do(http.MethodPost, tenantPath("/retrieve"), queryRequest(args), &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, resp.Bundle.Render())
	printSources(out, resp.Preview, resp.Provenance)
	return nil
}

func printSources(w io.Writer, preview fusion.Bundle, p fusion.Provenance) {
	if p.NoRelevantContent {
		fmt.Fprintln(w, "\n(no relevant documents or web results)")
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for _, it := range preview.Items {
		if it.Kind != fusion.KindDocument && it.Kind != fusion.KindWeb {
			continue
		}
		score := ""
		if it.Score != nil {
			score = fmt.Sprintf(" (%.2f)", *it.Score)
		}
		switch {
		case it.Kind == fusion.KindDocument && it.Page > 0:
			fmt.Fprintf(w, "  - %s p.%d%s\n", it.Source, it.Page, score)
		default:
			fmt.Fprintf(w, "  - %s%s\n", it.Source, score)
		}
	}
	if p.UsedWeb {
		fmt.Fprintln(w, "  (web search used)")
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
