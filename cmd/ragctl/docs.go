package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	ragdhttp "github.com/fyrsmithlabs/ragd/internal/http"
	"github.com/fyrsmithlabs/ragd/internal/ingest"
)

var ingestDocID string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Upload extracted text files as documents",
	Long: `Upload one or more text files. Form feed characters separate pages, which
is what pdftotext produces. The document id defaults to the file name.

Examples:
  pdftotext handbook.pdf - > handbook.txt
  ragctl ingest --tenant acme handbook.txt`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "List or delete a tenant's documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <doc_id>",
	Short: "Delete a document and all of its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsDelete,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document id (single file only)")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}

// splitPages splits extracted text on form feeds, dropping a trailing
// empty page.
func splitPages(text string) []string {
	pages := strings.Split(text, "\f")
	if n := len(pages); n > 1 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}

func runIngest(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	if ingestDocID != "" && len(args) > 1 {
		return fmt.Errorf("--doc-id can only be used with a single file")
	}

	c := newClient()
	for _, path := range args {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", path, err)
		}

		var res ingest.Result
		err = c.do(http.MethodPost, tenantPath("/documents"), ragdhttp.IngestRequest{
			DocID:    ingestDocID,
			Filename: filepath.Base(path),
			Pages:    splitPages(string(content)),
		}, &res)
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}

		action := "indexed"
		if res.Replaced {
			action = "replaced"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d chunks\n", action, res.DocID, res.Chunks)
	}
	return nil
}

func runDocsList(cmd *cobra.Command, _ []string) error {
	if err := requireTenant(); err != nil {
		return err
	}

	var resp ragdhttp.ListDocumentsResponse
	if err := newClient().do(http.MethodGet, tenantPath("/documents"), nil, &resp); err != nil {
		return err
	}
	if len(resp.Documents) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no documents")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOC ID\tFILENAME")
	for _, d := range resp.Documents {
		fmt.Fprintf(w, "%s\t%s\n", d.DocID, d.Filename)
	}
	return w.Flush()
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	if err := requireTenant(); err != nil {
		return err
	}
	if err := newClient().do(http.MethodDelete, tenantPath("/documents/"+url.PathEscape(args[0])), nil, nil); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
