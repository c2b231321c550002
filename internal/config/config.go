package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"openbook/internal/parser"
)

const DefaultConfigPath = "./openbook.yaml"

type Config struct {
	Paths    PathsConfig   `yaml:"paths"`
	LLM      LLMConfig     `yaml:"llm"`
	EmbedLLM LLMConfig     `yaml:"embedding"`
	RAG      RAGConfig     `yaml:"rag"`
	Index    IndexConfig   `yaml:"index"`
	UI       UIConfig      `yaml:"ui"`
	Logging  LoggingConfig `yaml:"logging"`
}

type PathsConfig struct {
	ModelsDir  string `yaml:"models_dir"`
	IndexesDir string `yaml:"indexes_dir"`
}

// LLMConfig configures either the generation model or the embedding model.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "ollama" or "openai"
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	ModelFile   string  `yaml:"model_file"`
	DownloadURL string  `yaml:"download_url"`
	ContextSize int     `yaml:"context_size"`
	Threads     int     `yaml:"threads"`
	GPULayers   int     `yaml:"gpu_layers"`
	UseGPU      bool    `yaml:"use_gpu"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	Warmup      bool    `yaml:"warmup"`
	BatchSize   int     `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Splitter     string `yaml:"splitter"` // "recursive" or "window"
	TopK         int    `yaml:"top_k"`
}

type IndexConfig struct {
	Name           string `yaml:"name"`
	Collection     string `yaml:"collection"`
	Compress       bool   `yaml:"compress"`
	EncryptionKey  string `yaml:"encryption_key"`
	RestoreOnStart bool   `yaml:"restore_on_start"`
}

type UIConfig struct {
	AllowedTypes []string `yaml:"allowed_types"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			ModelsDir:  "./models",
			IndexesDir: "./indexes",
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "mistral:7b-instruct-v0.1-q4_K_M",
			ModelFile:   "mistral-7b-instruct.Q4_K_M.gguf",
			DownloadURL: "https://huggingface.co/TheBloke/Mistral-7B-Instruct-v0.1-GGUF/resolve/main/mistral-7b-instruct-v0.1.Q4_K_M.gguf",
			ContextSize: 2048,
			Threads:     4,
			GPULayers:   20,
			MaxTokens:   300,
			Temperature: 0.3,
			Warmup:      true,
		},
		EmbedLLM: LLMConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "all-minilm",
			BatchSize: 32,
		},
		RAG: RAGConfig{
			ChunkSize:    500,
			ChunkOverlap: 100,
			Splitter:     "recursive",
			TopK:         2,
		},
		Index: IndexConfig{
			Name:       "book_index",
			Collection: "book",
		},
		UI: UIConfig{
			AllowedTypes: []string{".pdf"},
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./openbook.log",
		},
	}
}

// LoadConfig reads a YAML config on top of the defaults. A missing file yields the defaults.
// Values from .env and the process environment override the file.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if cfg.LLM.Provider == "ollama" {
			cfg.LLM.BaseURL = host
		}
		if cfg.EmbedLLM.Provider == "ollama" {
			cfg.EmbedLLM.BaseURL = host
		}
	}
	if key := os.Getenv("OPENBOOK_LLM_API_KEY"); key != "" {
		cfg.LLM.Key = key
		cfg.EmbedLLM.Key = key
	}
	if key := os.Getenv("OPENBOOK_INDEX_KEY"); key != "" {
		cfg.Index.EncryptionKey = key
	}
}

// fill zero values left by a partial YAML file
func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Paths.ModelsDir == "" {
		cfg.Paths.ModelsDir = def.Paths.ModelsDir
	}
	if cfg.Paths.IndexesDir == "" {
		cfg.Paths.IndexesDir = def.Paths.IndexesDir
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = def.LLM.MaxTokens
	}
	if cfg.LLM.ContextSize == 0 {
		cfg.LLM.ContextSize = def.LLM.ContextSize
	}
	if cfg.LLM.Threads == 0 {
		cfg.LLM.Threads = def.LLM.Threads
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = def.EmbedLLM.Provider
	}
	if cfg.EmbedLLM.BatchSize == 0 {
		cfg.EmbedLLM.BatchSize = def.EmbedLLM.BatchSize
	}
	if cfg.RAG.Splitter == "" {
		cfg.RAG.Splitter = def.RAG.Splitter
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.Index.Name == "" {
		cfg.Index.Name = def.Index.Name
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = def.Index.Collection
	}
	if len(cfg.UI.AllowedTypes) == 0 {
		cfg.UI.AllowedTypes = def.UI.AllowedTypes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be at least 1, got %d", c.RAG.TopK)
	}
	switch c.RAG.Splitter {
	case "recursive", "window":
	default:
		return fmt.Errorf("unknown rag.splitter %q", c.RAG.Splitter)
	}
	for _, ext := range c.UI.AllowedTypes {
		if !slices.Contains(parser.SupportedExtensions(), strings.ToLower(ext)) {
			return fmt.Errorf("ui.allowed_types: unsupported file type %q", ext)
		}
	}
	if k := c.Index.EncryptionKey; k != "" && len(k) != 32 {
		return fmt.Errorf("index.encryption_key must be 32 bytes, got %d", len(k))
	}
	return nil
}

func (c *Config) ModelPath() string {
	return filepath.Join(c.Paths.ModelsDir, c.LLM.ModelFile)
}

// IndexPath is the chromem export file the index builder replaces on every upload.
func (c *Config) IndexPath() string {
	name := c.Index.Name + ".gob"
	if c.Index.Compress {
		name += ".gz"
	}
	if c.Index.EncryptionKey != "" {
		name += ".enc"
	}
	return filepath.Join(c.Paths.IndexesDir, name)
}

// GPULayerCount is the number of layers to offload, zero unless GPU use was requested.
func (c *Config) GPULayerCount() int {
	if !c.LLM.UseGPU {
		return 0
	}
	return c.LLM.GPULayers
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
