package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"openbook/internal/embedding"
	"openbook/internal/models"
)

const (
	Title = "OPENBOOK - Offline Document Q&A"

	StatusReady      = "Ready"
	StatusProcessing = "Processing PDF..."
	StatusThinking   = "Thinking..."
	StatusIndexed    = "Ready (Index built)"
	StatusNoDocument = "Error: No PDF loaded"
)

// SessionPort is the subset of the session the form drives.
type SessionPort interface {
	HasIndex() bool
	Ingest(ctx context.Context, path string, progress embedding.ProgressFunc) (*models.IngestResult, error)
	Ask(ctx context.Context, question string) (*models.PromptResponse, error)
}

type ingestDoneMsg struct {
	result *models.IngestResult
	err    error
}

type askDoneMsg struct {
	resp *models.PromptResponse
	err  error
}

// Model is the Bubble Tea model for the question form.
type Model struct {
	ctx      context.Context
	session  SessionPort
	input    textinput.Model
	viewport viewport.Model
	picker   filepicker.Model
	spinner  spinner.Model

	status      string
	statusStyle lipgloss.Style
	note        string
	document    string
	picking     bool
	busy        bool
	ready       bool
	width       int
}

// New creates the form. allowedTypes filters the file picker, e.g. ".pdf".
func New(ctx context.Context, session SessionPort, allowedTypes []string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about the document and press Enter"
	ti.CharLimit = 0
	ti.Focus()

	fp := filepicker.New()
	fp.AllowedTypes = allowedTypes
	if dir, err := filepath.Abs("."); err == nil {
		fp.CurrentDirectory = dir
	}

	sp := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(busyStyle))

	vp := viewport.New(0, 0)
	vp.SetContent(hintText)

	return Model{
		ctx:         ctx,
		session:     session,
		input:       ti,
		viewport:    vp,
		picker:      fp,
		spinner:     sp,
		status:      StatusReady,
		statusStyle: idleStyle,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

// Status is the text of the status line.
func (m Model) Status() string { return m.status }

// Busy reports whether an upload or question is running.
func (m Model) Busy() bool { return m.busy }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		m.width = msg.Width
		_, rh := answerBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		// title, document, status, help, spacer
		reserved := 5 + qh + rh + 1
		m.viewport.Width = max(20, msg.Width-answerBoxStyle.GetHorizontalFrameSize())
		m.viewport.Height = max(3, msg.Height-reserved)
		m.input.Width = max(10, msg.Width-queryBoxStyle.GetHorizontalFrameSize()-len(m.input.Prompt)-1)
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(tea.WindowSizeMsg{Width: msg.Width, Height: msg.Height - 4})
		return m, cmd

	case ingestDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.document = msg.result.Source
		m.setStatus(StatusIndexed, doneStyle)
		m.setAnswer(fmt.Sprintf("Indexed %s: %d pages, %d chunks.\n\n%s",
			msg.result.Source, msg.result.Pages, msg.result.Chunks, askHint))
		return m, nil

	case askDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.setStatus(StatusReady, doneStyle)
		m.setAnswer(renderAnswer(msg.resp))
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.picking {
			return m.updatePicker(msg)
		}
		m.note = ""
		switch msg.String() {
		case "esc":
			return m, tea.Quit
		case "ctrl+o":
			if m.busy {
				m.note = "wait for the current operation to finish"
				return m, nil
			}
			m.picking = true
			return m, m.picker.Init()
		case "enter":
			return m.ask()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}

	if m.picking {
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updatePicker(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.picking = false
		return m, nil
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	if ok, path := m.picker.DidSelectFile(msg); ok {
		m.picking = false
		return m.upload(path)
	}
	if ok, path := m.picker.DidSelectDisabledFile(msg); ok {
		m.note = fmt.Sprintf("%s is not a supported document", filepath.Base(path))
		return m, cmd
	}
	return m, cmd
}

func (m Model) upload(path string) (tea.Model, tea.Cmd) {
	m.busy = true
	m.setStatus(StatusProcessing, workingStyle)
	log.Info().Str("file", path).Msg("Upload requested")

	ctx, session := m.ctx, m.session
	ingest := func() tea.Msg {
		res, err := session.Ingest(ctx, path, nil)
		return ingestDoneMsg{result: res, err: err}
	}
	return m, tea.Batch(ingest, m.spinner.Tick)
}

func (m Model) ask() (tea.Model, tea.Cmd) {
	if m.busy {
		m.note = "wait for the current operation to finish"
		return m, nil
	}
	if !m.session.HasIndex() {
		m.setStatus(StatusNoDocument, errorStyle)
		return m, nil
	}
	question := strings.TrimSpace(m.input.Value())
	if question == "" {
		return m, nil
	}

	m.busy = true
	m.setStatus(StatusThinking, busyStyle)

	ctx, session := m.ctx, m.session
	answer := func() tea.Msg {
		resp, err := session.Ask(ctx, question)
		return askDoneMsg{resp: resp, err: err}
	}
	return m, tea.Batch(answer, m.spinner.Tick)
}

func (m *Model) setStatus(status string, style lipgloss.Style) {
	m.status = status
	m.statusStyle = style
}

func (m *Model) setError(err error) {
	switch {
	case errors.Is(err, models.ErrEmptyInput):
		m.setStatus(StatusReady, idleStyle)
	case errors.Is(err, models.ErrNoIndex):
		m.setStatus(StatusNoDocument, errorStyle)
	default:
		log.Error().Err(err).Msg("Action failed")
		m.setStatus("Error: "+err.Error(), errorStyle)
	}
}

func (m *Model) setAnswer(text string) {
	if m.viewport.Width > 0 {
		text = lipgloss.NewStyle().Width(m.viewport.Width).Render(text)
	}
	m.viewport.SetContent(text)
	m.viewport.GotoTop()
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render(Title)

	if m.picking {
		body := noteStyle.Render("Choose a document (enter to select, esc to cancel)") + "\n\n" + m.picker.View()
		if m.note != "" {
			body += "\n" + errorStyle.Render(m.note)
		}
		return header + "\n" + body
	}

	document := "No document loaded"
	if m.document != "" {
		document = "Document: " + m.document
	}

	status := m.statusStyle.Render(m.status)
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	if m.note != "" {
		status += "  " + noteStyle.Render("("+m.note+")")
	}

	return header + "\n" +
		noteStyle.Render(document) + "\n" +
		answerBoxStyle.Render(m.viewport.View()) + "\n" +
		queryBoxStyle.Render(m.input.View()) + "\n" +
		status + "\n" +
		noteStyle.Render(helpText)
}

func renderAnswer(resp *models.PromptResponse) string {
	var b strings.Builder
	b.WriteString(questionStyle.Render("Q: " + resp.Query))
	b.WriteString("\n\n")
	b.WriteString(resp.Content)
	if len(resp.Sources) > 0 {
		b.WriteString("\n\n")
		b.WriteString(noteStyle.Render("Sources"))
		for i, s := range resp.Sources {
			fmt.Fprintf(&b, "\n[%d] page %d, chunk %d (%.2f): %s", i+1, s.PageNumber, s.ChunkID, s.Similarity, snippet(s.Content, 80))
		}
	}
	return b.String()
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

const (
	hintText = "Press ctrl+o to upload a PDF, then type a question."
	askHint  = "Type a question and press Enter."
	helpText = "ctrl+o upload • enter ask • pgup/pgdown scroll • esc quit"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	questionStyle  = lipgloss.NewStyle().Bold(true)
	noteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	workingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	busyStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	doneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
