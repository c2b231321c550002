package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"openbook/internal/helper"
	"openbook/internal/models"
)

// Options locate the persisted index and how it is written.
type Options struct {
	FilePath       string
	CollectionName string
	Compress       bool
	EncryptionKey  string
	// EmbeddingFunc embeds query text when a search is made by text.
	EmbeddingFunc chromem.EmbeddingFunc
}

// VectorDBManager encapsulates the chromem-go database operations.
// The database lives in memory and is persisted as a single export file.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	opts       Options
}

// NewVectorDBManager initializes an empty in-memory database with one collection
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(opts.CollectionName, nil, opts.EmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	return &VectorDBManager{db: db, collection: c, opts: opts}, nil
}

// LoadVectorDBManager reads a previously exported index from opts.FilePath.
func LoadVectorDBManager(opts Options) (*VectorDBManager, error) {
	if _, err := os.Stat(opts.FilePath); err != nil {
		return nil, err
	}
	db := chromem.NewDB()
	if err := db.ImportFromFile(opts.FilePath, opts.EncryptionKey, opts.CollectionName); err != nil {
		return nil, fmt.Errorf("failed to import database: %v", err)
	}
	c := db.GetCollection(opts.CollectionName, opts.EmbeddingFunc)
	if c == nil {
		return nil, fmt.Errorf("collection %q not found in %s", opts.CollectionName, opts.FilePath)
	}
	return &VectorDBManager{db: db, collection: c, opts: opts}, nil
}

// CreateDocs adds embedded chunks to the collection
func (m *VectorDBManager) CreateDocs(ctx context.Context, chunks []models.ChunkEmbedding) error {
	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  CreateMetadata(c.Chunk),
			Embedding: c.Embedding,
		})
	}
	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// CreateMetadata keeps the chunk's origin next to its vector
func CreateMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		"source":   c.Source,
		"page":     strconv.Itoa(c.PageNumber),
		"chunk_id": strconv.Itoa(c.ChunkID),
		"position": strconv.Itoa(c.Position),
	}
}

// Count is the number of documents in the collection.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Search returns up to k documents nearest to embedding, most similar first.
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, k int) ([]chromem.Result, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	// chromem refuses nResults above the collection size
	k = min(k, m.Count())
	if k <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	return results, nil
}

// FilePath is where Export writes the index.
func (m *VectorDBManager) FilePath() string {
	return m.opts.FilePath
}

// Export writes the collection next to FilePath and renames it into place, so
// readers only ever see the old file or the complete new one.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.opts.FilePath == "" {
		return errors.New("db path is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	suffix, err := helper.GenerateUUID()
	if err != nil {
		return err
	}
	// same directory for an atomic rename, same suffix so chromem sees the same format
	tmpPath := filepath.Join(filepath.Dir(m.opts.FilePath), ".tmp-"+suffix+"-"+filepath.Base(m.opts.FilePath))

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.opts.FilePath).
		Bool("compress", m.opts.Compress).
		Bool("encrypted", m.opts.EncryptionKey != "").
		Msg("Exporting index")

	if err := m.db.ExportToFile(tmpPath, m.opts.Compress, m.opts.EncryptionKey, m.collection.Name); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to export database: %v", err)
	}
	if err := os.Rename(tmpPath, m.opts.FilePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %v", m.opts.FilePath, err)
	}
	return nil
}
