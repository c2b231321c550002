package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var question string

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer a question from the saved index",
	Long: `Restore the index saved by the last upload and answer one question from it.

Example:
  openbook ask -q "What is the capital of France?"`,
	Args: cobra.NoArgs,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&question, "question", "q", "", "question to ask (required)")
	_ = askCmd.MarkFlagRequired("question")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	session, err := startSession(cmd, false)
	if err != nil {
		return err
	}
	if err := session.Restore(); err != nil {
		return err
	}

	response, err := session.Ask(cmd.Context(), question)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Query:\n%s\n\n", response.Query)
	fmt.Fprintf(out, "Sources:\n")
	for i, s := range response.Sources {
		fmt.Fprintf(out, "  [%d] page %d, chunk %d (similarity %.3f)\n", i+1, s.PageNumber, s.ChunkID, s.Similarity)
	}
	fmt.Fprintf(out, "\nAnswer:\n%s\n", response.Content)
	return nil
}
