package cli

import (
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"openbook/internal/helper"
	"openbook/internal/parser"
	"openbook/internal/rag"
)

var dryRun bool

var indexCmd = &cobra.Command{
	Use:   "index <file>",
	Short: "Index a document for questions",
	Long: `Parse a document, embed its chunks and save the index, replacing any previous one.

Examples:
  openbook index ./book.pdf            # Build and save the index
  openbook index ./book.pdf --dry-run  # Print the chunks without loading models`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the chunks as JSON, do not embed or save")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := args[0]
	out := cmd.OutOrStdout()

	if dryRun {
		doc, err := parser.ParseDocument(path, rag.SplitOptions(cfg))
		if err != nil {
			return err
		}
		helper.PrettyPrint(out, doc.Chunks)
		return nil
	}

	session, err := startSession(cmd, false)
	if err != nil {
		return err
	}

	var (
		bar   *progressbar.ProgressBar
		barMu sync.Mutex
	)
	progress := func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)
		}
		_ = bar.Set(done)
	}

	fmt.Fprintf(out, "Indexing %s...\n", path)
	result, err := session.Ingest(cmd.Context(), path, progress)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Fprintf(out, "\nIndexing complete:\n")
	fmt.Fprintf(out, "  Document: %s\n", result.Source)
	fmt.Fprintf(out, "  Pages:    %d\n", result.Pages)
	fmt.Fprintf(out, "  Chunks:   %d\n", result.Chunks)
	fmt.Fprintf(out, "\nIndex stored at: %s\n", result.IndexPath)
	return nil
}
