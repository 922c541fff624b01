package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pixrelay/pixrelay/internal/uploader"
)

// Styles
var (
	tuiTitle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	tuiBackend = lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Width(10)
	tuiStep    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	tuiOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	tuiFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	tuiHelp    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

const tuiBarWidth = 30

type runEventMsg uploader.RunEvent

type runClosedMsg struct{}

type backendRow struct {
	name    string
	bar     progress.Model
	percent float64
	step    string
	outcome *uploader.UploadOutcome
}

// uploadModel renders one fan-out as a row of progress bars in request
// order. Display percentages never regress, matching the smoothed
// values the contract emits.
type uploadModel struct {
	run        *uploader.Run
	cancel     context.CancelFunc
	rows       []backendRow
	index      map[string]int
	res        *uploader.AggregateResult
	cancelling bool
}

func newUploadModel(run *uploader.Run, cancel context.CancelFunc) uploadModel {
	rows := make([]backendRow, len(run.Request.Backends))
	index := make(map[string]int, len(run.Request.Backends))
	for i, name := range run.Request.Backends {
		rows[i] = backendRow{
			name: name,
			bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(tuiBarWidth)),
			step: "waiting",
		}
		index[name] = i
	}
	return uploadModel{run: run, cancel: cancel, rows: rows, index: index}
}

func waitForRunEvent(events <-chan uploader.RunEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return runClosedMsg{}
		}
		return runEventMsg(ev)
	}
}

func (m uploadModel) Init() tea.Cmd {
	return waitForRunEvent(m.run.Events())
}

func (m uploadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			// abort the run; the view leaves once every branch settles
			m.cancelling = true
			m.cancel()
		}
		return m, nil

	case runEventMsg:
		m.apply(uploader.RunEvent(msg))
		if m.res != nil {
			return m, tea.Quit
		}
		return m, waitForRunEvent(m.run.Events())

	case runClosedMsg:
		m.res = m.run.Result()
		return m, tea.Quit
	}
	return m, nil
}

func (m *uploadModel) apply(ev uploader.RunEvent) {
	switch ev.Type {
	case uploader.RunEventProgress:
		p := ev.Progress
		if i, ok := m.index[p.Backend]; ok {
			row := &m.rows[i]
			if p.Percent > row.percent {
				row.percent = p.Percent
			}
			if p.Step != "" {
				row.step = p.Step
			}
		}
	case uploader.RunEventOutcome:
		o := ev.Outcome
		if i, ok := m.index[o.Backend]; ok {
			row := &m.rows[i]
			row.outcome = o
			if o.Status == uploader.StatusSuccess {
				row.percent = 100
			}
		}
	case uploader.RunEventDone:
		m.res = ev.Result
	}
}

func (m uploadModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", tuiTitle.Render("Uploading"), filepath.Base(m.run.Request.FilePath))

	for i := range m.rows {
		row := &m.rows[i]
		status := tuiStep.Render(row.step)
		if o := row.outcome; o != nil {
			if o.Status == uploader.StatusSuccess {
				status = tuiOK.Render(o.URL)
			} else {
				status = tuiFail.Render(outcomeError(o))
			}
		}
		fmt.Fprintf(&b, "%s %s %s\n", tuiBackend.Render(row.name), row.bar.ViewAs(row.percent/100), status)
	}

	b.WriteString("\n")
	if m.cancelling && m.res == nil {
		b.WriteString(tuiFail.Render("cancelling, waiting for backends to settle") + "\n")
	} else {
		b.WriteString(tuiHelp.Render("ctrl+c to cancel") + "\n")
	}
	return b.String()
}

// runUploadTUI renders one run as live progress bars. Quit keys cancel
// the run and the program exits only after every branch settles, so the
// summary printed afterwards is always complete.
func runUploadTUI(ctx context.Context, cancel context.CancelFunc, run *uploader.Run) (*uploader.AggregateResult, error) {
	// the bars own the terminal, keep stderr quiet meanwhile
	prev := logLevel.Level()
	logLevel.Set(slog.LevelError)
	defer logLevel.Set(prev)

	p := tea.NewProgram(newUploadModel(run, cancel))
	out, err := p.Run()
	if err != nil {
		return nil, err
	}
	if m, ok := out.(uploadModel); ok && m.res != nil {
		return m.res, nil
	}
	return run.Wait(ctx)
}
