package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"openbook/internal/chromemdb"
	"openbook/internal/config"
	"openbook/internal/embedding"
	"openbook/internal/models"
	"openbook/internal/parser"
)

func (s *Session) indexOptions() chromemdb.Options {
	return chromemdb.Options{
		FilePath:       s.cfg.IndexPath(),
		CollectionName: s.cfg.Index.Collection,
		Compress:       s.cfg.Index.Compress,
		EncryptionKey:  s.cfg.Index.EncryptionKey,
		EmbeddingFunc:  s.embedder.EmbedQuery,
	}
}

// SplitOptions are the chunking settings from the rag config section.
func SplitOptions(cfg *config.Config) parser.SplitOptions {
	return parser.SplitOptions{
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		Policy:       cfg.RAG.Splitter,
	}
}

// Ingest parses the document at path and replaces the current index with one
// built from it.
func (s *Session) Ingest(ctx context.Context, path string, progress embedding.ProgressFunc) (*models.IngestResult, error) {
	if !s.ingesting.TryLock() {
		return nil, models.ErrBusy
	}
	defer s.ingesting.Unlock()

	doc, err := parser.ParseDocument(path, SplitOptions(s.cfg))
	if err != nil {
		return nil, err
	}
	log.Info().Str("source", doc.Source).Int("pages", len(doc.Pages)).Int("chunks", len(doc.Chunks)).Msg("Parsed document")

	if err := s.buildIndex(ctx, doc.Source, doc.Chunks, progress); err != nil {
		return nil, err
	}
	return &models.IngestResult{
		Source:    doc.Source,
		Pages:     len(doc.Pages),
		Chunks:    len(doc.Chunks),
		IndexPath: s.cfg.IndexPath(),
	}, nil
}

// BuildIndex embeds chunks into a staging collection, persists it and only
// then makes it current. On failure the previous index stays in place.
func (s *Session) BuildIndex(ctx context.Context, source string, chunks []models.Chunk, progress embedding.ProgressFunc) error {
	if !s.ingesting.TryLock() {
		return models.ErrBusy
	}
	defer s.ingesting.Unlock()
	return s.buildIndex(ctx, source, chunks, progress)
}

func (s *Session) buildIndex(ctx context.Context, source string, chunks []models.Chunk, progress embedding.ProgressFunc) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: no chunks to index", models.ErrIndex)
	}
	started := time.Now()

	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, s.embedder, chunks, s.cfg.EmbedLLM.BatchSize, progress)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndex, err)
	}

	staging, err := chromemdb.NewVectorDBManager(s.indexOptions())
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndex, err)
	}
	if err := staging.CreateDocs(ctx, chunkEmbeddings); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndex, err)
	}
	if err := staging.Export(ctx); err != nil {
		return fmt.Errorf("%w: %v", models.ErrIndex, err)
	}

	s.swap(staging, source)

	log.Info().
		Str("source", source).
		Int("chunks", staging.Count()).
		Str("file", staging.FilePath()).
		Dur("elapsed", time.Since(started)).
		Msg("Index built")
	return nil
}

// Restore makes the persisted index current. A missing file is ErrNoIndex.
func (s *Session) Restore() error {
	opts := s.indexOptions()
	index, err := chromemdb.LoadVectorDBManager(opts)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", models.ErrNoIndex, opts.FilePath)
		}
		return fmt.Errorf("%w: restoring %s: %v", models.ErrIndex, opts.FilePath, err)
	}
	if index.Count() == 0 {
		return fmt.Errorf("%w: %s is empty", models.ErrNoIndex, opts.FilePath)
	}
	if err := s.checkDimension(index); err != nil {
		return fmt.Errorf("%w: %s: %v", models.ErrIndex, opts.FilePath, err)
	}

	s.swap(index, "")
	log.Info().Str("file", opts.FilePath).Int("chunks", index.Count()).Msg("Restored index")
	return nil
}

// checkDimension rejects an index whose vectors were made by a different
// embedding model than the one loaded.
func (s *Session) checkDimension(index *chromemdb.VectorDBManager) error {
	if s.dimension <= 0 {
		return nil
	}
	probe := make([]float32, s.dimension)
	for i := range probe {
		probe[i] = 1
	}
	if _, err := index.Search(context.Background(), probe, 1); err != nil {
		return fmt.Errorf("index does not match the %d-dimension embedding model: %v", s.dimension, err)
	}
	return nil
}
