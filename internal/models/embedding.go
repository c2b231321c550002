package models

// Page is the extracted text of one PDF page, sheet or slide
type Page struct {
	Number int
	Text   string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	PageNumber int    `json:"page_number"`
	ChunkID    int    `json:"chunk_id"`
	Position   int    `json:"position"`
}

type ChunkEmbedding struct {
	Chunk
	Embedding []float32
}

// Source is a retrieved chunk cited by an answer.
type Source struct {
	Content    string  `json:"content"`
	PageNumber int     `json:"page_number"`
	ChunkID    int     `json:"chunk_id"`
	Similarity float32 `json:"similarity"`
}

type PromptResponse struct {
	Query   string
	Context string
	Sources []Source
	Content string
}

// IngestResult summarises a successful upload.
type IngestResult struct {
	Source    string
	Pages     int
	Chunks    int
	IndexPath string
}
