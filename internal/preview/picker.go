package preview

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobpipe/internal/config"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Padding(1, 0, 1, 2)

	pickerRowStyle = lipgloss.NewStyle().
			Padding(0, 0, 0, 4)

	pickerCursorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 0, 0, 2)

	pickerDetailStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Padding(0, 0, 0, 6)

	pickerHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(1, 0, 0, 2)
)

// sourcePicker lists sources with their role and target; the cursor row
// expands to show the pattern file and query terms.
type sourcePicker struct {
	sources []config.SourceConfig
	width   int // name column
	cursor  int
	picked  bool
	quit    bool
}

func newSourcePicker(sources []config.SourceConfig) sourcePicker {
	w := 0
	for _, s := range sources {
		w = max(w, len(s.Name))
	}
	return sourcePicker{sources: sources, width: w}
}

func (m sourcePicker) Init() tea.Cmd { return nil }

func (m sourcePicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	last := len(m.sources) - 1
	switch key.String() {
	case "q", "esc", "ctrl+c":
		m.quit = true
		return m, tea.Quit
	case "up", "k":
		m.cursor = max(m.cursor-1, 0)
	case "down", "j":
		m.cursor = min(m.cursor+1, last)
	case "home", "g":
		m.cursor = 0
	case "end", "G":
		m.cursor = last
	case "enter":
		m.picked = true
		return m, tea.Quit
	}
	return m, nil
}

func (m sourcePicker) View() string {
	var b strings.Builder
	b.WriteString(pickerTitleStyle.Render(fmt.Sprintf("Filter Preview: %d sources", len(m.sources))))
	b.WriteString("\n")
	for i, src := range m.sources {
		row := fmt.Sprintf("%-*s  %-7s %s", m.width, src.Name, src.Source(), sourceTarget(src))
		if i != m.cursor {
			b.WriteString(pickerRowStyle.Render(row) + "\n")
			continue
		}
		b.WriteString(pickerCursorStyle.Render("> "+row) + "\n")
		b.WriteString(pickerDetailStyle.Render(sourceDetail(src)) + "\n")
	}
	b.WriteString(pickerHintStyle.Render("↑/↓ move  g/G first/last  enter preview  q quit"))
	return b.String()
}

// sourceTarget names what a source fetches: a board for the ATS adapters,
// the country and queries for the aggregator.
func sourceTarget(src config.SourceConfig) string {
	switch src.Kind {
	case "adzuna":
		return fmt.Sprintf("%s/%s", src.Kind, strings.ToLower(src.Country))
	default:
		if src.Company != "" {
			return fmt.Sprintf("%s/%s (%s)", src.Kind, src.BoardToken, src.Company)
		}
		return fmt.Sprintf("%s/%s", src.Kind, src.BoardToken)
	}
}

func sourceDetail(src config.SourceConfig) string {
	patterns := src.Patterns
	if patterns == "" {
		patterns = "default"
	}
	parts := []string{"patterns: " + patterns}
	if len(src.What) > 0 {
		parts = append(parts, "what: "+strings.Join(src.What, ", "))
	}
	if len(src.Where) > 0 {
		parts = append(parts, "where: "+strings.Join(src.Where, ", "))
	}
	return strings.Join(parts, "  ")
}

// RunSourcePicker shows the source selector. ok is false when the user quit.
func RunSourcePicker(sources []config.SourceConfig) (src config.SourceConfig, ok bool, err error) {
	result, err := tea.NewProgram(newSourcePicker(sources)).Run()
	if err != nil {
		return config.SourceConfig{}, false, err
	}
	final := result.(sourcePicker)
	if !final.picked || len(final.sources) == 0 {
		return config.SourceConfig{}, false, nil
	}
	return final.sources[final.cursor], true, nil
}
