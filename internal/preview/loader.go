package preview

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobpipe/internal/model"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

var loaderSpinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))

// ErrLoadCancelled is returned when the operator interrupts a load.
var ErrLoadCancelled = errors.New("load cancelled")

// FetchFunc pulls raw payloads from a source.
type FetchFunc func(ctx context.Context) ([]model.Payload, error)

// EvaluateFunc turns fetched payloads into preview entries.
type EvaluateFunc func(payloads []model.Payload) ([]Entry, Summary)

// Loaded is the outcome of a preview load.
type Loaded struct {
	Entries []Entry
	Summary Summary
	Elapsed time.Duration
}

type loadStage int

const (
	stageFetching loadStage = iota
	stageEvaluating
	stageDone
)

type fetchedMsg struct {
	payloads []model.Payload
	err      error
}

type evaluatedMsg struct {
	entries []Entry
	summary Summary
}

type spinnerTickMsg time.Time

// loader fetches one source, then runs the gates over what came back,
// showing which stage it is in and for how long.
type loader struct {
	source   string
	timeout  time.Duration
	fetch    FetchFunc
	evaluate EvaluateFunc

	stage    loadStage
	started  time.Time
	now      time.Time
	frame    int
	payloads int
	out      Loaded
	err      error
}

func newLoader(source string, timeout time.Duration, fetch FetchFunc, evaluate EvaluateFunc) loader {
	now := time.Now()
	return loader{source: source, timeout: timeout, fetch: fetch, evaluate: evaluate, started: now, now: now}
}

func (m loader) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), tick())
}

func (m loader) fetchCmd() tea.Cmd {
	fetch, timeout := m.fetch, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		payloads, err := fetch(ctx)
		return fetchedMsg{payloads: payloads, err: err}
	}
}

func (m loader) evaluateCmd(payloads []model.Payload) tea.Cmd {
	evaluate := m.evaluate
	return func() tea.Msg {
		entries, sum := evaluate(payloads)
		return evaluatedMsg{entries: entries, summary: sum}
	}
}

func tick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg { return spinnerTickMsg(t) })
}

func (m loader) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case fetchedMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetching %s: %w", m.source, msg.err)
			m.stage = stageDone
			return m, tea.Quit
		}
		m.payloads = len(msg.payloads)
		m.stage = stageEvaluating
		return m, m.evaluateCmd(msg.payloads)
	case evaluatedMsg:
		m.out = Loaded{Entries: msg.entries, Summary: msg.summary, Elapsed: m.now.Sub(m.started)}
		m.stage = stageDone
		return m, tea.Quit
	case spinnerTickMsg:
		if m.stage == stageDone {
			return m, nil
		}
		m.now = time.Time(msg)
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = ErrLoadCancelled
			m.stage = stageDone
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m loader) View() string {
	if m.stage == stageDone {
		return ""
	}
	spinner := loaderSpinnerStyle.Render(spinnerFrames[m.frame])
	elapsed := m.now.Sub(m.started).Truncate(time.Second)
	if m.stage == stageEvaluating {
		return fmt.Sprintf("%s %s: evaluating %d payloads (%s)\n", spinner, m.source, m.payloads, elapsed)
	}
	return fmt.Sprintf("%s %s: fetching postings (%s)\n", spinner, m.source, elapsed)
}

// RunLoader fetches a source and evaluates its payloads behind an inline
// spinner. Nothing is written to the store.
func RunLoader(source string, timeout time.Duration, fetch FetchFunc, evaluate EvaluateFunc) (Loaded, error) {
	result, err := tea.NewProgram(newLoader(source, timeout, fetch, evaluate)).Run()
	if err != nil {
		return Loaded{}, err
	}
	final := result.(loader)
	return final.out, final.err
}
