package parser

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"openbook/internal/models"
)

const (
	PolicyRecursive = "recursive"
	PolicyWindow    = "window"

	defaultChunkSize    = 500
	defaultChunkOverlap = 100
)

// SplitOptions bounds chunk length and overlap, both in runes.
type SplitOptions struct {
	ChunkSize    int
	ChunkOverlap int
	Policy       string
}

func (o SplitOptions) normalized() SplitOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
		o.ChunkOverlap = defaultChunkOverlap
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 2
	}
	if o.Policy == "" {
		o.Policy = PolicyRecursive
	}
	return o
}

// Split cuts every page into chunks no longer than opts.ChunkSize runes.
// Chunks never span pages. Position counts chunks across the whole document.
func Split(source string, pages []models.Page, opts SplitOptions) ([]models.Chunk, error) {
	opts = opts.normalized()

	var chunks []models.Chunk
	for _, page := range pages {
		var (
			parts []string
			err   error
		)
		switch opts.Policy {
		case PolicyRecursive:
			parts, err = splitRecursive(page.Text, opts.ChunkSize, opts.ChunkOverlap)
		case PolicyWindow:
			parts = chunkContent(page.Text, opts.ChunkSize, opts.ChunkOverlap)
		default:
			return nil, fmt.Errorf("%w: unknown split policy %q", models.ErrIngestion, opts.Policy)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", models.ErrIngestion, page.Number, err)
		}

		for i, part := range parts {
			chunks = append(chunks, models.Chunk{
				ID:         fmt.Sprintf("%s-%d-%d", source, page.Number, i+1),
				Content:    part,
				Source:     source,
				PageNumber: page.Number,
				ChunkID:    i + 1,
				Position:   len(chunks),
			})
		}
	}
	return chunks, nil
}

// splitRecursive prefers paragraph, then line, then word boundaries.
// Anything the library leaves over the bound is cut again by the window.
func splitRecursive(content string, maxChars, overlapChars int) ([]string, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxChars),
		textsplitter.WithChunkOverlap(overlapChars),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
	parts, err := splitter.SplitText(content)
	if err != nil {
		return nil, err
	}

	var chunks []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) > maxChars {
			chunks = append(chunks, chunkContent(part, maxChars, overlapChars)...)
			continue
		}
		chunks = append(chunks, part)
	}
	return chunks, nil
}

// chunk content into chunks with maxChars and overlapChars
//
//	each chunk after the first starts exactly overlapChars runes before the
//	previous one ended; a chunk may end early on a space, newline or period
//	found in the last 10% of its window
func chunkContent(content string, maxChars, overlapChars int) []string {
	if maxChars <= 0 {
		return nil
	}
	if overlapChars < 0 {
		overlapChars = 0
	}
	if overlapChars >= maxChars {
		overlapChars = maxChars / 2
	}

	runes := []rune(strings.TrimSpace(content))
	contentLen := len(runes)
	if contentLen == 0 {
		return nil
	}
	if contentLen <= maxChars {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < contentLen {
		end := min(start+maxChars, contentLen)

		if end < contentLen {
			lookBack := min(maxChars/10, end-start)
			for i := end - 1; i >= end-lookBack && i > start; i-- {
				if runes[i] == ' ' || runes[i] == '\n' || runes[i] == '.' {
					end = i + 1
					break
				}
			}
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= contentLen {
			break
		}

		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}
