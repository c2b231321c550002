package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"

	"openbook/internal/models"
)

const embeddingDim = 256

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "of": true, "what": true,
	"in": true, "and": true, "to": true, "are": true, "was": true, "it": true,
}

// Embedder hashes content words into a fixed-size bag-of-words vector, so
// texts sharing words land close together.
type Embedder struct {
	// FailOn makes any text containing it fail to embed.
	FailOn string

	mu    sync.Mutex
	Calls int
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := e.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, v)
	}
	return vectors, nil
}

func (e *Embedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.Calls++
	e.mu.Unlock()

	if e.FailOn != "" && strings.Contains(text, e.FailOn) {
		return nil, errors.New("embedding backend unavailable")
	}

	v := make([]float32, embeddingDim)
	for _, w := range Words(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%embeddingDim]++
	}
	// keep empty texts comparable
	v[embeddingDim-1] += 0.01

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

// Words lowercases text and returns its words minus stop words.
func Words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			words = append(words, f)
		}
	}
	return words
}

// LLM answers with the context sentence that best overlaps the question, or
// the fallback phrase when no sentence shares at least two content words.
type LLM struct {
	Err error
	// Block, when set, holds every call until it is closed.
	Block chan struct{}

	mu      sync.Mutex
	Prompts []string
	Options []llms.CallOptions
}

func (m *LLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}

	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if t, ok := part.(llms.TextContent); ok {
				prompt.WriteString(t.Text)
			}
		}
	}

	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt.String())
	m.Options = append(m.Options, opts)
	m.mu.Unlock()

	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.Err != nil {
		return nil, m.Err
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: " " + answer(prompt.String()) + "\n"}},
	}, nil
}

func (m *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// CallCount is the number of generations requested so far.
func (m *LLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

func answer(prompt string) string {
	ctxStart := strings.Index(prompt, "CONTEXT:")
	qStart := strings.Index(prompt, "QUESTION:")
	aStart := strings.Index(prompt, "ANSWER:")
	if ctxStart < 0 || qStart < ctxStart || aStart < qStart {
		return models.FallbackAnswer
	}
	ctxText := prompt[ctxStart+len("CONTEXT:") : qStart]
	question := prompt[qStart+len("QUESTION:") : aStart]

	qWords := map[string]bool{}
	for _, w := range Words(question) {
		qWords[w] = true
	}

	best, bestScore := "", 0
	for _, sentence := range strings.FieldsFunc(ctxText, func(r rune) bool { return r == '.' || r == '\n' }) {
		score := 0
		seen := map[string]bool{}
		for _, w := range Words(sentence) {
			if qWords[w] && !seen[w] {
				seen[w] = true
				score++
			}
		}
		if score > bestScore {
			best, bestScore = strings.TrimSpace(sentence)+".", score
		}
	}
	if bestScore < 2 {
		return models.FallbackAnswer
	}
	return best
}
