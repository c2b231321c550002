package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"openbook/internal/config"
	"openbook/internal/helper"
	"openbook/internal/llmservice"
	"openbook/internal/models"
	"openbook/internal/rag"
	"openbook/internal/tui"
)

var (
	cfgFile  string
	useGPU   bool
	logLevel string
	cfg      *config.Config
)

// replaced in tests
var (
	loadModels = llmservice.LoadModels
	runUI      = tui.Run
	showFatal  = tui.ShowFatal
)

var rootCmd = &cobra.Command{
	Use:   "openbook",
	Short: "OPENBOOK - offline document Q&A",
	Long: `OPENBOOK loads a document, builds a semantic index over its text and answers
questions with a local language model that only sees the document.

Without a subcommand it opens the question form:
  ctrl+o  upload a PDF
  enter   ask the typed question
  esc     quit

Example usage:
  openbook                                  # Open the form
  openbook --gpu                            # Offload model layers to the GPU
  openbook index ./book.pdf                 # Index a document headlessly
  openbook ask -q "Who is the narrator?"    # Ask against the saved index`,
	SilenceUsage:      true,
	PersistentPreRunE: bootstrap,
	RunE:              runForm,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultConfigPath, "config file")
	rootCmd.PersistentFlags().BoolVar(&useGPU, "gpu", false, "offload model layers to the GPU")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// bootstrap loads the configuration and creates the working directories.
func bootstrap(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if useGPU {
		cfg.LLM.UseGPU = true
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	helper.SetupLogger(cfg.Logging.Level, cmd.ErrOrStderr())

	return helper.EnsureDirectories(cfg.Paths.ModelsDir, cfg.Paths.IndexesDir)
}

func runForm(cmd *cobra.Command, args []string) error {
	// the form owns the terminal, so logs go to a file
	logFile, err := helper.OpenLogFile(cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	helper.SetupLogger(cfg.Logging.Level, logFile)

	session, err := startSession(cmd, true)
	if err != nil {
		return err
	}

	if cfg.Index.RestoreOnStart {
		if err := session.Restore(); err != nil {
			log.Warn().Err(err).Msg("Starting without an index")
		}
	}

	return runUI(cmd.Context(), session, cfg.UI.AllowedTypes)
}

// startSession loads the models. When interactive, failures are also shown in
// a blocking dialog before the command exits.
func startSession(cmd *cobra.Command, interactive bool) (*rag.Session, error) {
	out := cmd.OutOrStdout()

	loaded, err := loadModels(cmd.Context(), cfg)
	if err != nil {
		if errors.Is(err, models.ErrModelMissing) {
			fmt.Fprintln(out, "Error: Model file not found. Please download:")
			fmt.Fprintf(out, "wget %s -O %s\n", cfg.LLM.DownloadURL, cfg.ModelPath())
			if interactive {
				if ferr := showFatal("Error", "Model file not found. Please download the model file first."); ferr != nil {
					log.Error().Err(ferr).Msg("Error showing dialog")
				}
			}
			return nil, err
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Model loading failed: %v\n", err)
		if interactive {
			if ferr := showFatal("Error", "Failed to initialize models. Check console for errors."); ferr != nil {
				log.Error().Err(ferr).Msg("Error showing dialog")
			}
		}
		return nil, err
	}

	return rag.NewSession(cfg, loaded), nil
}
