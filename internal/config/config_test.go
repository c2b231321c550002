package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 2, cfg.RAG.TopK)
	assert.Equal(t, 300, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 2048, cfg.LLM.ContextSize)
	assert.Equal(t, 4, cfg.LLM.Threads)
	assert.Equal(t, []string{".pdf"}, cfg.UI.AllowedTypes)
	assert.True(t, cfg.LLM.Warmup)
	assert.Contains(t, cfg.LLM.DownloadURL, "v0.1")
	assert.Contains(t, cfg.LLM.Model, "v0.1")
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_NonExistent(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().RAG, cfg.RAG)
}

func TestLoadConfig_PartialYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openbook.yaml")
	content := `
rag:
  chunk_size: 800
  splitter: window
index:
  name: manual
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 100, cfg.RAG.ChunkOverlap)
	assert.Equal(t, "window", cfg.RAG.Splitter)
	assert.Equal(t, 2, cfg.RAG.TopK)
	assert.Equal(t, "manual", cfg.Index.Name)
	assert.Equal(t, "book", cfg.Index.Collection)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("OPENBOOK_INDEX_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://gpu-box:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "http://gpu-box:11434", cfg.EmbedLLM.BaseURL)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.Index.EncryptionKey)
	assert.Equal(t, ".enc", filepath.Ext(cfg.IndexPath()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.RAG.ChunkSize = 0 }},
		{"overlap equals size", func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize }},
		{"negative overlap", func(c *Config) { c.RAG.ChunkOverlap = -1 }},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }},
		{"unknown splitter", func(c *Config) { c.RAG.Splitter = "semantic" }},
		{"short encryption key", func(c *Config) { c.Index.EncryptionKey = "short" }},
		{"unsupported allowed type", func(c *Config) { c.UI.AllowedTypes = []string{".pdf", ".epub"} }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_AllowedTypes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UI.AllowedTypes = []string{".pdf", ".DOCX", ".txt", ".md"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_WarmupCanBeDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openbook.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  warmup: false\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.LLM.Warmup)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, filepath.Join("models", "mistral-7b-instruct.Q4_K_M.gguf"), cfg.ModelPath())
	assert.Equal(t, filepath.Join("indexes", "book_index.gob"), cfg.IndexPath())

	cfg.Index.Compress = true
	assert.Equal(t, filepath.Join("indexes", "book_index.gob.gz"), cfg.IndexPath())
}

func TestGPULayerCount(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, cfg.GPULayerCount())

	cfg.LLM.UseGPU = true
	assert.Equal(t, 20, cfg.GPULayerCount())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "openbook.yaml")
	cfg := DefaultConfig()
	cfg.RAG.TopK = 4

	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.RAG.TopK)
}
