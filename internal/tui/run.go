package tui

import (
	"context"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Run opens the form and blocks until the user quits.
func Run(ctx context.Context, session SessionPort, allowedTypes []string) error {
	p := tea.NewProgram(New(ctx, session, allowedTypes), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run form: %w", err)
	}
	return nil
}

// ShowFatal shows a blocking error dialog and waits for a key. Without a
// terminal it prints to stderr instead.
func ShowFatal(title, message string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return printFatal(os.Stderr, title, message)
	}
	if _, err := tea.NewProgram(fatalModel{title: title, message: message}).Run(); err != nil {
		return printFatal(os.Stderr, title, message)
	}
	return nil
}

func printFatal(w io.Writer, title, message string) error {
	_, err := fmt.Fprintf(w, "%s: %s\n", title, message)
	return err
}

type fatalModel struct {
	title   string
	message string
}

func (m fatalModel) Init() tea.Cmd { return nil }

func (m fatalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if _, ok := msg.(tea.KeyMsg); ok {
		return m, tea.Quit
	}
	return m, nil
}

func (m fatalModel) View() string {
	body := errorStyle.Bold(true).Render(m.title) + "\n\n" + m.message + "\n\n" + noteStyle.Render("Press any key to exit.")
	return dialogStyle.Render(body) + "\n"
}

var dialogStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(lipgloss.Color("9")).
	Padding(1, 2)
