package llmservice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"openbook/internal/config"
	"openbook/internal/embedding"
	"openbook/internal/models"
)

var ggufMagic = []byte("GGUF")

// WeightsInfo is what the GGUF header says about the weights file.
type WeightsInfo struct {
	Path        string
	Size        int64
	Version     uint32
	TensorCount uint64
}

// Models are the handles every session operation shares.
type Models struct {
	LLM       llms.Model
	Embedder  embeddings.Embedder
	Dimension int
}

var (
	newLLM      = NewLLM
	newEmbedder = embedding.New
)

// CheckModelFile verifies the weights file exists and carries a GGUF header.
func CheckModelFile(path string) (WeightsInfo, error) {
	info := WeightsInfo{Path: path}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return info, fmt.Errorf("%w: %s", models.ErrModelMissing, path)
		}
		return info, fmt.Errorf("%w: %s: %v", models.ErrLoad, path, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return info, fmt.Errorf("%w: %s: %v", models.ErrLoad, path, err)
	}
	if stat.IsDir() {
		return info, fmt.Errorf("%w: %s is a directory", models.ErrLoad, path)
	}
	info.Size = stat.Size()

	// magic, version, tensor count
	header := make([]byte, 16)
	if _, err := io.ReadFull(f, header); err != nil {
		return info, fmt.Errorf("%w: %s: truncated GGUF header", models.ErrLoad, path)
	}
	if !bytes.Equal(header[:4], ggufMagic) {
		return info, fmt.Errorf("%w: %s is not a GGUF file", models.ErrLoad, path)
	}
	info.Version = binary.LittleEndian.Uint32(header[4:8])
	if info.Version < 1 || info.Version > 3 {
		return info, fmt.Errorf("%w: %s: unsupported GGUF version %d", models.ErrLoad, path, info.Version)
	}
	info.TensorCount = binary.LittleEndian.Uint64(header[8:16])
	return info, nil
}

// LoadModels checks the weights file and brings up the language and embedding models.
// It runs once at startup and is never retried.
func LoadModels(ctx context.Context, cfg *config.Config) (*Models, error) {
	started := time.Now()

	weights, err := CheckModelFile(cfg.ModelPath())
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", weights.Path).Int64("bytes", weights.Size).Uint32("gguf_version", weights.Version).Uint64("tensors", weights.TensorCount).Msg("Found model weights")

	llm, err := newLLM(&cfg.LLM, cfg.GPULayerCount())
	if err != nil {
		return nil, fmt.Errorf("%w: language model: %v", models.ErrLoad, err)
	}

	embedder, err := newEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding model: %v", models.ErrLoad, err)
	}

	probe, err := embedder.EmbedQuery(ctx, "openbook warmup")
	if err != nil {
		return nil, fmt.Errorf("%w: embedding model %q: %v", models.ErrLoad, cfg.EmbedLLM.Model, err)
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("%w: embedding model %q returned an empty vector", models.ErrLoad, cfg.EmbedLLM.Model)
	}

	if cfg.LLM.Warmup {
		if _, err := GenerateContent(ctx, llm, "Reply with OK.", 1, 0); err != nil {
			return nil, fmt.Errorf("%w: language model %q: %v", models.ErrLoad, cfg.LLM.Model, err)
		}
	}

	log.Info().
		Str("llm", cfg.LLM.Model).
		Str("embedding", cfg.EmbedLLM.Model).
		Int("dimension", len(probe)).
		Int("gpu_layers", cfg.GPULayerCount()).
		Dur("elapsed", time.Since(started)).
		Msg("Models loaded")

	return &Models{
		LLM:       llm,
		Embedder:  embedder,
		Dimension: len(probe),
	}, nil
}
