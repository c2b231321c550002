package parser

import (
	"bufio"
	"os"
	"regexp"
	"strings"

	"openbook/internal/models"
)

// chapter headings like "Chapter 3", "CHAPTER IV", "Part 2"
var chapterRe = regexp.MustCompile(`(?i)^(?:chapter|part|book)\s+(?:\d+|[ivxlcdm]+)\b`)

const maxLineBytes = 1 << 20

type textParserState struct {
	number  int
	content strings.Builder
	pages   []models.Page
}

// parseText reads a plain-text file. A form feed (as written by pdftotext) or
// a chapter heading starts a new page.
func parseText(filePath string) ([]models.Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	state := textParserState{number: 1}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		processTextLine(scanner.Text(), &state)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	handlePageChange(&state, false)
	return state.pages, nil
}

// processTextLine adds one line to the current page, starting new pages as needed.
func processTextLine(line string, state *textParserState) {
	parts := strings.Split(line, "\f")
	for i, part := range parts {
		if i > 0 {
			handlePageChange(state, true)
		}
		if chapterRe.MatchString(strings.TrimSpace(part)) {
			handlePageChange(state, false)
		}
		if i > 0 && part == "" {
			continue
		}
		state.content.WriteString(part)
		if i == len(parts)-1 {
			state.content.WriteString("\n")
		}
	}
}

// handlePageChange stores the current page if it has text. A form feed always
// advances the page number so numbering follows the source pages.
func handlePageChange(state *textParserState, formFeed bool) {
	text := strings.TrimSpace(state.content.String())
	state.content.Reset()
	if text != "" {
		state.pages = append(state.pages, models.Page{Number: state.number, Text: text})
	}
	if text != "" || formFeed {
		state.number++
	}
}
