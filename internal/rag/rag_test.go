package rag

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook/internal/config"
	"openbook/internal/llmservice"
	"openbook/internal/models"
	"openbook/internal/testutil"
)

type fixture struct {
	cfg      *config.Config
	llm      *testutil.LLM
	embedder *testutil.Embedder
	session  *Session
	dir      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Paths.IndexesDir = t.TempDir()

	f := &fixture{
		cfg:      cfg,
		llm:      &testutil.LLM{},
		embedder: &testutil.Embedder{},
		dir:      t.TempDir(),
	}
	f.session = NewSession(cfg, &llmservice.Models{LLM: f.llm, Embedder: f.embedder, Dimension: 256})
	return f
}

func (f *fixture) ingest(t *testing.T, name string, pages ...[]string) *models.IngestResult {
	t.Helper()
	path := testutil.WritePDF(t, f.dir, name, pages)
	res, err := f.session.Ingest(context.Background(), path, nil)
	require.NoError(t, err)
	return res
}

func TestAsk_AnswersFromDocument(t *testing.T) {
	f := newFixture(t)
	res := f.ingest(t, "atlas.pdf",
		[]string{"The capital of France is Paris."},
		[]string{"Bananas are a yellow fruit grown in the tropics."},
	)
	assert.Equal(t, "atlas.pdf", res.Source)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, 2, res.Chunks)
	assert.FileExists(t, res.IndexPath)

	resp, err := f.session.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Paris")
	assert.NotContains(t, resp.Content, models.FallbackAnswer)
	assert.Equal(t, strings.TrimSpace(resp.Content), resp.Content)

	require.Len(t, resp.Sources, 2)
	assert.Equal(t, 1, resp.Sources[0].PageNumber)
	assert.Equal(t, 1, resp.Sources[0].ChunkID)
	assert.GreaterOrEqual(t, resp.Sources[0].Similarity, resp.Sources[1].Similarity)
	assert.True(t, strings.HasPrefix(resp.Context, resp.Sources[0].Content))
	assert.Contains(t, resp.Context, models.ContextSeparator)
}

func TestAsk_PromptAndOptions(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})

	_, err := f.session.Ask(context.Background(), "  What is the capital of France?  ")
	require.NoError(t, err)

	require.Len(t, f.llm.Prompts, 1)
	prompt := f.llm.Prompts[0]
	assert.True(t, strings.HasPrefix(prompt, `Answer the question based ONLY on the following context. If unsure, say "I couldn't find this in the document."`))
	assert.Contains(t, prompt, "\n\nCONTEXT:\n")
	assert.Contains(t, prompt, "Paris.\n\nQUESTION: What is the capital of France?\nANSWER: ")
	assert.True(t, strings.HasSuffix(prompt, "ANSWER: "))

	require.Len(t, f.llm.Options, 1)
	assert.Equal(t, 300, f.llm.Options[0].MaxTokens)
	assert.InDelta(t, 0.3, f.llm.Options[0].Temperature, 1e-9)
}

func TestAsk_AbsentAnswerFallsBack(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})

	resp, err := f.session.Ask(context.Background(), "Who painted the Mona Lisa?")
	require.NoError(t, err)
	assert.Equal(t, models.FallbackAnswer, resp.Content)
}

func TestAsk_NoIndex(t *testing.T) {
	f := newFixture(t)

	_, err := f.session.Ask(context.Background(), "What is the capital of France?")
	assert.ErrorIs(t, err, models.ErrNoIndex)
	assert.Equal(t, 0, f.llm.CallCount())
	assert.Equal(t, 0, f.embedder.Calls)
	assert.False(t, f.session.HasIndex())
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})

	for _, q := range []string{"", "   ", "\n\t"} {
		_, err := f.session.Ask(context.Background(), q)
		assert.ErrorIs(t, err, models.ErrEmptyInput)
	}
	assert.Equal(t, 0, f.llm.CallCount())
}

func TestAsk_GenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})
	f.llm.Err = assert.AnError

	_, err := f.session.Ask(context.Background(), "What is the capital of France?")
	assert.ErrorIs(t, err, models.ErrGeneration)
}

func TestAsk_QuestionEmbeddingFailure(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})
	f.embedder.FailOn = "unembeddable"

	_, err := f.session.Ask(context.Background(), "an unembeddable question")
	assert.ErrorIs(t, err, models.ErrGeneration)
	assert.Equal(t, 0, f.llm.CallCount())
}

func TestAsk_SecondConcurrentQuestionIsBusy(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})
	f.llm.Block = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = f.session.Ask(context.Background(), "What is the capital of France?")
	}()

	require.Eventually(t, func() bool { return f.llm.CallCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := f.session.Ask(context.Background(), "Is Paris in France?")
	assert.ErrorIs(t, err, models.ErrBusy)

	close(f.llm.Block)
	wg.Wait()
	assert.NoError(t, firstErr)
	assert.Equal(t, 1, f.llm.CallCount())
}

func TestIngest_ReplacesPreviousDocument(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "france.pdf", []string{"The capital of France is Paris."})
	f.ingest(t, "italy.pdf", []string{"Rome is the capital of Italy."})
	assert.Equal(t, "italy.pdf", f.session.Source())

	resp, err := f.session.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.NotContains(t, resp.Context, "Paris")
	assert.Equal(t, models.FallbackAnswer, resp.Content)

	resp, err = f.session.Ask(context.Background(), "What is the capital of Italy?")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Rome")
}

func TestIngest_FailedRebuildKeepsPreviousIndex(t *testing.T) {
	f := newFixture(t)
	res := f.ingest(t, "france.pdf", []string{"The capital of France is Paris."})
	before, err := os.ReadFile(res.IndexPath)
	require.NoError(t, err)

	f.embedder.FailOn = "poison"
	bad := testutil.WritePDF(t, f.dir, "bad.pdf", [][]string{{"This page carries poison for the embedder."}})
	_, err = f.session.Ingest(context.Background(), bad, nil)
	require.ErrorIs(t, err, models.ErrIndex)

	after, err := os.ReadFile(res.IndexPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(filepath.Dir(res.IndexPath))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	resp, err := f.session.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Paris")
	assert.Equal(t, "france.pdf", f.session.Source())
}

func TestIngest_Errors(t *testing.T) {
	f := newFixture(t)

	notes := filepath.Join(f.dir, "notes.png")
	require.NoError(t, os.WriteFile(notes, []byte("png"), 0o644))

	_, err := f.session.Ingest(context.Background(), notes, nil)
	assert.ErrorIs(t, err, models.ErrIngestion)

	_, err = f.session.Ingest(context.Background(), filepath.Join(f.dir, "missing.pdf"), nil)
	assert.ErrorIs(t, err, models.ErrIngestion)

	assert.False(t, f.session.HasIndex())
	assert.Equal(t, 0, f.embedder.Calls)
}

func TestIngest_Busy(t *testing.T) {
	f := newFixture(t)
	path := testutil.WritePDF(t, f.dir, "atlas.pdf", [][]string{{"The capital of France is Paris."}})

	f.session.ingesting.Lock()
	_, err := f.session.Ingest(context.Background(), path, nil)
	assert.ErrorIs(t, err, models.ErrBusy)
	err = f.session.BuildIndex(context.Background(), "atlas.pdf", []models.Chunk{{ID: "a", Content: "x"}}, nil)
	assert.ErrorIs(t, err, models.ErrBusy)
	f.session.ingesting.Unlock()

	_, err = f.session.Ingest(context.Background(), path, nil)
	assert.NoError(t, err)
}

func TestIngest_ReportsProgress(t *testing.T) {
	f := newFixture(t)
	f.cfg.EmbedLLM.BatchSize = 2
	path := testutil.WritePDF(t, f.dir, "geo.pdf", [][]string{
		testutil.Paragraph("Glaciers carve valleys over thousands of years.", 1500, 70),
	})

	var calls [][2]int
	res, err := f.session.Ingest(context.Background(), path, func(done, total int) {
		calls = append(calls, [2]int{done, total})
	})
	require.NoError(t, err)
	require.NotEmpty(t, calls)
	assert.Equal(t, [2]int{res.Chunks, res.Chunks}, calls[len(calls)-1])
}

func TestBuildIndex_NoChunks(t *testing.T) {
	f := newFixture(t)
	err := f.session.BuildIndex(context.Background(), "empty.pdf", nil, nil)
	assert.ErrorIs(t, err, models.ErrIndex)
	assert.False(t, f.session.HasIndex())
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.session.Restore(), models.ErrNoIndex)

	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})

	restored := NewSession(f.cfg, &llmservice.Models{LLM: f.llm, Embedder: f.embedder})
	require.NoError(t, restored.Restore())
	assert.True(t, restored.HasIndex())

	resp, err := restored.Ask(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "Paris")
}

func TestRestore_DimensionMismatch(t *testing.T) {
	f := newFixture(t)
	f.ingest(t, "atlas.pdf", []string{"The capital of France is Paris."})

	other := NewSession(f.cfg, &llmservice.Models{LLM: f.llm, Embedder: f.embedder, Dimension: 384})
	err := other.Restore()
	assert.ErrorIs(t, err, models.ErrIndex)
	assert.False(t, other.HasIndex())

	same := NewSession(f.cfg, &llmservice.Models{LLM: f.llm, Embedder: f.embedder, Dimension: 256})
	require.NoError(t, same.Restore())
	assert.True(t, same.HasIndex())
}

func TestCleanAnswer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Paris.\n", "Paris."},
		{"<think>the user asks about France</think>\nParis.", "Paris."},
		{"<think>\nmulti\nline\n</think> Paris. <think>again</think>", "Paris."},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CleanAnswer(tc.in))
	}
}
