package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"openbook/internal/config"
	"openbook/internal/models"
)

const defaultBatchSize = 32

// ProgressFunc is told how many of total chunks have been embedded so far.
type ProgressFunc func(done, total int)

// NewEmbedder creates an embedder backed by an OpenAI-compatible server
func NewEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating OpenAI-compatible embedder")

	llm, err := openai.New(
		openai.WithBaseURL(llmConfig.BaseURL),
		openai.WithToken(APIToken(llmConfig.Key)),
		openai.WithEmbeddingModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	return embeddings.NewEmbedder(llm, batchOptions(llmConfig)...)
}

// new ollama embedder
func NewOllamaEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating Ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	return embeddings.NewEmbedder(llm, batchOptions(llmConfig)...)
}

// New picks the embedder for llmConfig.Provider.
func New(llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	var (
		embedder *embeddings.EmbedderImpl
		err      error
	)
	switch llmConfig.Provider {
	case "ollama", "":
		embedder, err = NewOllamaEmbedder(llmConfig)
	case "openai":
		embedder, err = NewEmbedder(llmConfig)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, err
	}
	return embedder, nil
}

// APIToken strips a "Bearer " prefix. Local OpenAI-compatible servers ignore
// the token but the client refuses an empty one.
func APIToken(key string) string {
	key = strings.TrimPrefix(key, "Bearer ")
	if key == "" {
		return "local"
	}
	return key
}

func batchOptions(llmConfig *config.LLMConfig) []embeddings.Option {
	batch := llmConfig.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return []embeddings.Option{
		embeddings.WithBatchSize(batch),
		embeddings.WithStripNewLines(true),
	}
}

// GenerateEmbedding embeds chunks batch by batch. Any failure aborts the whole run.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, chunks []models.Chunk, batchSize int, progress ProgressFunc) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vectors, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", start+1, end, err)
		}
		if len(vectors) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}

		for i, c := range chunks[start:end] {
			if len(vectors[i]) == 0 {
				return nil, fmt.Errorf("empty embedding for chunk %s", c.ID)
			}
			chunkEmbeddings = append(chunkEmbeddings, models.ChunkEmbedding{Chunk: c, Embedding: vectors[i]})
		}
		if progress != nil {
			progress(end, len(chunks))
		}
	}

	return chunkEmbeddings, nil
}
