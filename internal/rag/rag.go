package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"openbook/internal/chromemdb"
	"openbook/internal/config"
	"openbook/internal/llmservice"
	"openbook/internal/models"
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Session holds the loaded models and the current index. It is built once at
// startup and shared by every upload and question.
type Session struct {
	cfg      *config.Config
	llm      llms.Model
	embedder embeddings.Embedder
	prompt   prompts.PromptTemplate

	// vector length of the loaded embedder, zero when unknown
	dimension int

	mu     sync.RWMutex
	index  *chromemdb.VectorDBManager
	source string

	// admission guards: a second caller is turned away, never queued
	asking    sync.Mutex
	ingesting sync.Mutex
}

func NewSession(cfg *config.Config, m *llmservice.Models) *Session {
	return &Session{
		cfg:       cfg,
		llm:       m.LLM,
		embedder:  m.Embedder,
		prompt:    prompts.NewPromptTemplate(models.AnswerPromptTemplate, []string{"context", "question"}),
		dimension: m.Dimension,
	}
}

// HasIndex reports whether a question can be answered.
func (s *Session) HasIndex() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index != nil
}

// Source is the document behind the current index, if known.
func (s *Session) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *Session) current() *chromemdb.VectorDBManager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index
}

func (s *Session) swap(index *chromemdb.VectorDBManager, source string) {
	s.mu.Lock()
	s.index = index
	s.source = source
	s.mu.Unlock()
}

// Ask answers question from the top_k closest chunks of the current index.
func (s *Session) Ask(ctx context.Context, question string) (*models.PromptResponse, error) {
	index := s.current()
	if index == nil {
		return nil, models.ErrNoIndex
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, models.ErrEmptyInput
	}
	if !s.asking.TryLock() {
		return nil, models.ErrBusy
	}
	defer s.asking.Unlock()

	started := time.Now()

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding question: %v", models.ErrGeneration, err)
	}

	docs, err := index.Search(ctx, queryEmbedding, s.cfg.RAG.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}

	sources := make([]models.Source, 0, len(docs))
	texts := make([]string, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, toSource(doc))
		texts = append(texts, doc.Content)
	}
	contextText := strings.Join(texts, models.ContextSeparator)

	prompt, err := s.prompt.Format(map[string]any{
		"context":  contextText,
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rendering prompt: %v", models.ErrGeneration, err)
	}

	raw, err := llmservice.GenerateContent(ctx, s.llm, prompt, s.cfg.LLM.MaxTokens, s.cfg.LLM.Temperature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	answer := CleanAnswer(raw)
	if answer == "" {
		answer = models.FallbackAnswer
	}

	log.Info().
		Str("question", question).
		Int("sources", len(sources)).
		Dur("elapsed", time.Since(started)).
		Msg("Answered question")

	return &models.PromptResponse{
		Query:   question,
		Context: contextText,
		Sources: sources,
		Content: answer,
	}, nil
}

// CleanAnswer drops <think> blocks and surrounding whitespace from model output.
func CleanAnswer(raw string) string {
	return strings.TrimSpace(thinkTag.ReplaceAllString(raw, ""))
}

func toSource(doc chromem.Result) models.Source {
	page, _ := strconv.Atoi(doc.Metadata["page"])
	chunkID, _ := strconv.Atoi(doc.Metadata["chunk_id"])
	return models.Source{
		Content:    doc.Content,
		PageNumber: page,
		ChunkID:    chunkID,
		Similarity: doc.Similarity,
	}
}
