package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbook/internal/config"
	"openbook/internal/models"
	"openbook/internal/testutil"
)

func makeChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{ID: fmt.Sprintf("doc-1-%d", i+1), Content: fmt.Sprintf("chunk number %d about lighthouses", i), Position: i}
	}
	return chunks
}

func TestGenerateEmbedding_Batches(t *testing.T) {
	emb := &testutil.Embedder{}
	var progress [][2]int

	out, err := GenerateEmbedding(context.Background(), emb, makeChunks(7), 3, func(done, total int) {
		progress = append(progress, [2]int{done, total})
	})
	require.NoError(t, err)
	require.Len(t, out, 7)

	assert.Equal(t, [][2]int{{3, 7}, {6, 7}, {7, 7}}, progress)
	for i, ce := range out {
		assert.Equal(t, i, ce.Position)
		assert.NotEmpty(t, ce.Embedding)
	}
}

func TestGenerateEmbedding_Empty(t *testing.T) {
	out, err := GenerateEmbedding(context.Background(), &testutil.Embedder{}, nil, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGenerateEmbedding_Failure(t *testing.T) {
	chunks := makeChunks(4)
	chunks[2].Content = "poisoned chunk"

	out, err := GenerateEmbedding(context.Background(), &testutil.Embedder{FailOn: "poisoned"}, chunks, 2, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunks 3-4")
	assert.Nil(t, out)
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(&config.LLMConfig{Provider: "bert-in-a-box"})
	assert.Error(t, err)
}

func TestAPIToken(t *testing.T) {
	assert.Equal(t, "sk-123", APIToken("Bearer sk-123"))
	assert.Equal(t, "sk-123", APIToken("sk-123"))
	assert.Equal(t, "local", APIToken(""))
}
