package preview

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/jobpipe/internal/ai"
	"github.com/amishk599/jobpipe/internal/model"
)

// Classifier runs a one-off classification from the detail view.
type Classifier interface {
	Classify(ctx context.Context, in ai.Input) (ai.Outcome, error)
}

// Lines per posting in the list view (title + subtitle + blank separator).
const entryItemHeight = 3

type viewState int

const (
	viewList viewState = iota
	viewDetail
)

var (
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("39")) // bright blue

	inactiveBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240")) // dim gray

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	activeHeaderStyle = headerStyle.
				Foreground(lipgloss.Color("39"))

	inactiveHeaderStyle = headerStyle.
				Foreground(lipgloss.Color("240"))

	statusBarStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("236"))

	entryTitleStyle = lipgloss.NewStyle().
			Bold(true)

	entrySubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245"))

	selectedTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("24"))

	selectedSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Background(lipgloss.Color("24"))

	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	rejectStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))

	detailLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39")).
				Width(16)

	detailValueStyle = lipgloss.NewStyle()

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				MarginBottom(1)

	descDividerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))

	descHintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	descBodyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

// classifiedMsg is sent when an async classification completes.
type classifiedMsg struct {
	url     string
	outcome ai.Outcome
	err     error
}

type previewModel struct {
	all           []Entry
	passing       []Entry
	leftViewport  viewport.Model
	rightViewport viewport.Model
	activePane    int // 0=left, 1=right
	leftCursor    int
	rightCursor   int
	width         int
	height        int
	ready         bool

	view            viewState
	detail          Entry
	detailViewport  viewport.Model
	showDescription bool

	classifier      Classifier
	classified      map[string]*model.ClassificationResult
	classifyLoading bool
	classifyError   string

	wantQuit bool
}

func newPreviewModel(entries []Entry, classifier Classifier) previewModel {
	return previewModel{
		all:        entries,
		passing:    Passing(entries),
		classifier: classifier,
		classified: make(map[string]*model.ClassificationResult),
	}
}

func (m previewModel) Init() tea.Cmd {
	return nil
}

func (m previewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcLayout()
		if m.view == viewDetail {
			m.detailViewport.Width = m.width - 4
			m.detailViewport.Height = m.height - 4
			m.detailViewport.SetContent(m.renderDetail())
		}
		return m, nil

	case classifiedMsg:
		m.classifyLoading = false
		switch {
		case msg.err != nil:
			m.classifyError = fmt.Sprintf("classification failed: %v", msg.err)
		case msg.outcome.Failure != nil:
			m.classifyError = msg.outcome.Failure.Error()
		case msg.outcome.Result == nil:
			m.classifyError = "LLM classification is not enabled; set llm.enabled: true in config.yaml"
		default:
			m.classifyError = ""
			m.classified[msg.url] = msg.outcome.Result
		}
		m.detailViewport.SetContent(m.renderDetail())
		return m, nil

	case tea.KeyMsg:
		if m.view == viewDetail {
			return m.updateDetailView(msg)
		}
		return m.updateListView(msg)
	}

	return m, nil
}

func (m previewModel) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.wantQuit = true
		return m, tea.Quit
	case "esc", "b":
		m.wantQuit = false
		return m, tea.Quit
	case "tab", "left", "right":
		m.activePane = 1 - m.activePane
		m.recalcContent()
		return m, nil
	case "up", "k":
		m.moveCursor(-1)
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "down", "j":
		m.moveCursor(1)
		m.recalcContent()
		m.ensureCursorVisible()
		return m, nil
	case "enter":
		return m.openDetailView()
	}

	// Forward other keys (pgup/pgdn/home/end) to the active viewport.
	var cmd tea.Cmd
	if m.activePane == 0 {
		m.leftViewport, cmd = m.leftViewport.Update(msg)
	} else {
		m.rightViewport, cmd = m.rightViewport.Update(msg)
	}
	return m, cmd
}

func (m previewModel) updateDetailView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.wantQuit = true
		return m, tea.Quit
	case "esc", "backspace":
		m.view = viewList
		return m, nil
	case "o":
		openURL(m.detail.Posting.PostingURL)
		return m, nil
	case "r":
		if m.detail.Posting.DescriptionText != "" {
			m.showDescription = !m.showDescription
			m.detailViewport.SetContent(m.renderDetail())
			m.detailViewport.SetYOffset(0)
		}
		return m, nil
	case "s":
		if m.classifier != nil && !m.classifyLoading && m.detail.Decision.Passed &&
			m.classified[m.detail.Posting.PostingURL] == nil {
			m.classifyLoading = true
			m.classifyError = ""
			m.detailViewport.SetContent(m.renderDetail())
			return m, m.classifyCmd(m.detail)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.detailViewport, cmd = m.detailViewport.Update(msg)
	return m, cmd
}

func (m previewModel) classifyCmd(e Entry) tea.Cmd {
	classifier := m.classifier
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		out, err := classifier.Classify(ctx, ai.Input{
			JobHash:     e.JobHash,
			Title:       e.Posting.Title,
			Employer:    e.Posting.CompanyName,
			Location:    e.Posting.LocationText,
			Description: e.Posting.DescriptionText,
			Quality:     e.Posting.DescriptionQuality,
		})
		return classifiedMsg{url: e.Posting.PostingURL, outcome: out, err: err}
	}
}

func (m *previewModel) moveCursor(delta int) {
	if m.activePane == 0 {
		m.leftCursor = clamp(m.leftCursor+delta, 0, max(len(m.all)-1, 0))
	} else {
		m.rightCursor = clamp(m.rightCursor+delta, 0, max(len(m.passing)-1, 0))
	}
}

func (m *previewModel) ensureCursorVisible() {
	var vp *viewport.Model
	var cursor int
	if m.activePane == 0 {
		vp = &m.leftViewport
		cursor = m.leftCursor
	} else {
		vp = &m.rightViewport
		cursor = m.rightCursor
	}

	cursorTop := cursor * entryItemHeight
	cursorBottom := cursorTop + entryItemHeight - 1

	if cursorTop < vp.YOffset {
		vp.SetYOffset(cursorTop)
	} else if cursorBottom >= vp.YOffset+vp.Height {
		vp.SetYOffset(cursorBottom - vp.Height + 1)
	}
}

func (m previewModel) openDetailView() (tea.Model, tea.Cmd) {
	entries := m.activeEntries()
	if len(entries) == 0 {
		return m, nil
	}

	m.view = viewDetail
	m.detail = entries[m.activeCursor()]
	m.classifyError = ""
	m.showDescription = false
	m.detailViewport = viewport.New(m.width-4, m.height-4)
	m.detailViewport.SetContent(m.renderDetail())
	return m, nil
}

func (m *previewModel) recalcLayout() {
	// 2 border chars per pane + 1 gap between panes.
	paneWidth := max((m.width-5)/2, 20)

	// Header (1 line) + border top/bottom (2) + status bar (1) = 4 lines overhead.
	paneHeight := max(m.height-4, 5)

	if !m.ready {
		m.leftViewport = viewport.New(paneWidth, paneHeight)
		m.rightViewport = viewport.New(paneWidth, paneHeight)
		m.ready = true
	} else {
		m.leftViewport.Width = paneWidth
		m.leftViewport.Height = paneHeight
		m.rightViewport.Width = paneWidth
		m.rightViewport.Height = paneHeight
	}

	m.recalcContent()
}

func (m *previewModel) recalcContent() {
	m.leftViewport.SetContent(renderEntries(m.all, m.leftCursor, m.activePane == 0))
	m.rightViewport.SetContent(renderEntries(m.passing, m.rightCursor, m.activePane == 1))
}

func (m previewModel) activeEntries() []Entry {
	if m.activePane == 0 {
		return m.all
	}
	return m.passing
}

func (m previewModel) activeCursor() int {
	if m.activePane == 0 {
		return m.leftCursor
	}
	return m.rightCursor
}

func (m previewModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.view == viewDetail {
		return m.viewDetail()
	}
	return m.viewList()
}

func (m previewModel) viewList() string {
	paneWidth := m.leftViewport.Width

	leftHeader := fmt.Sprintf(" All Postings (%d)", len(m.all))
	rightHeader := fmt.Sprintf(" Passing (%d)", len(m.passing))

	leftHeaderStyle, rightHeaderStyle := activeHeaderStyle, inactiveHeaderStyle
	leftBorder, rightBorder := activeBorderStyle, inactiveBorderStyle
	if m.activePane == 1 {
		leftHeaderStyle, rightHeaderStyle = inactiveHeaderStyle, activeHeaderStyle
		leftBorder, rightBorder = inactiveBorderStyle, activeBorderStyle
	}

	leftPane := leftBorder.Width(paneWidth).Render(m.leftViewport.View())
	rightPane := rightBorder.Width(paneWidth).Render(m.rightViewport.View())

	headerRow := lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(paneWidth+2).Render(leftHeaderStyle.Render(leftHeader)),
		" ",
		lipgloss.NewStyle().Width(paneWidth+2).Render(rightHeaderStyle.Render(rightHeader)),
	)
	panes := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, " ", rightPane)

	statusText := fmt.Sprintf(" %d total | %d passing | %d filtered    ←/→/Tab switch  ↑/↓ cursor  Enter detail  Esc back  q quit",
		len(m.all), len(m.passing), len(m.all)-len(m.passing))
	statusBar := statusBarStyle.Width(m.width).Render(statusText)

	return headerRow + "\n" + panes + "\n" + statusBar
}

func (m previewModel) viewDetail() string {
	title := detailTitleStyle.Render("Posting Details")
	if m.classifyLoading {
		title += "  (classifying...)"
	}

	content := activeBorderStyle.Width(m.width - 2).Render(m.detailViewport.View())

	statusText := " o open URL  esc/backspace back  ↑/↓ scroll  q quit"
	if m.detail.Posting.DescriptionText != "" {
		statusText = " o open URL  r desc  esc/backspace back  ↑/↓ scroll  q quit"
		if m.canClassify() {
			statusText = " o open URL  r desc  s classify  esc/backspace back  ↑/↓ scroll  q quit"
		}
	}
	statusBar := statusBarStyle.Width(m.width).Render(statusText)

	return title + "\n" + content + "\n" + statusBar
}

func (m previewModel) canClassify() bool {
	return m.classifier != nil && m.detail.Decision.Passed && !m.classifyLoading &&
		m.classified[m.detail.Posting.PostingURL] == nil
}

func (m previewModel) renderDetail() string {
	e := m.detail
	p := e.Posting
	var b strings.Builder

	addField := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(detailLabelStyle.Render(label))
		b.WriteString(detailValueStyle.Render(value))
		b.WriteByte('\n')
	}

	addField("Title", p.Title)
	addField("Company", p.CompanyName)
	addField("Location", p.LocationText)
	addField("Source", string(p.Source))
	addField("External ID", p.ExternalID())
	if p.PostedAt != nil {
		addField("Posted At", p.PostedAt.Format("2006-01-02 15:04 MST"))
	}
	addField("Description", string(p.DescriptionQuality))

	b.WriteByte('\n')
	if e.Decision.Passed {
		addField("Decision", passStyle.Render("passed"))
		addField("Scope", fmt.Sprintf("%s %s", e.Decision.Scope.Kind, e.Decision.Scope.Code))
		addField("Job Hash", e.JobHash)
	} else {
		addField("Decision", rejectStyle.Render("rejected by "+string(e.Decision.RejectedBy)))
		addField("Reason", e.Decision.Reason)
	}

	b.WriteByte('\n')
	addField("Posting URL", p.PostingURL)

	if m.classifyError != "" {
		b.WriteByte('\n')
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render("⚠ "+m.classifyError) + "\n")
	}

	wrapWidth := max(m.width-8, 20)
	divider := func(label string) string {
		fill := strings.Repeat("─", max(wrapWidth-len(label), 3))
		return descDividerStyle.Render(label + fill)
	}
	if res := m.classified[p.PostingURL]; res != nil {
		b.WriteByte('\n')
		b.WriteString(divider("── Classification ") + "\n\n")
		family := res.JobFamily
		if res.JobSubfamily != nil {
			family += " / " + *res.JobSubfamily
		}
		addField("Family", family)
		addField("Seniority", res.Seniority)
		addField("Track", res.Track)
		addField("Arrangement", res.WorkingArrangement)
		if c := res.Compensation; c != nil {
			addField("Compensation", formatCompensation(c))
		}
		if len(res.Skills) > 0 {
			names := make([]string, len(res.Skills))
			for i, s := range res.Skills {
				names[i] = s.Name
			}
			addField("Skills", strings.Join(names, ", "))
		}
		addField("Model", res.Provider+" "+res.Model)
		if res.Summary != "" {
			b.WriteString("\n" + detailValueStyle.Render(wordWrap(res.Summary, wrapWidth)) + "\n")
		}
	} else if m.classifyLoading {
		b.WriteByte('\n')
		b.WriteString(descHintStyle.Render("  classifying posting...") + "\n")
	} else if m.canClassify() && m.classifyError == "" {
		b.WriteByte('\n')
		b.WriteString(descHintStyle.Render("  press s to classify this posting") + "\n")
	}

	if p.DescriptionText != "" {
		b.WriteByte('\n')
		if m.showDescription {
			b.WriteString(divider("── Description ") + "\n\n")
			b.WriteString(descBodyStyle.Render(wordWrap(p.DescriptionText, wrapWidth)) + "\n")
		} else {
			b.WriteString(descHintStyle.Render("  press r to read the description") + "\n")
		}
	}

	return b.String()
}

func formatCompensation(c *model.Compensation) string {
	amount := func(v *float64) string {
		if v == nil {
			return "?"
		}
		return fmt.Sprintf("%.0f", *v)
	}
	s := fmt.Sprintf("%s %s - %s", c.Currency, amount(c.Min), amount(c.Max))
	if c.Period != "" {
		s += " / " + c.Period
	}
	return strings.TrimSpace(s)
}

func renderEntries(entries []Entry, cursor int, isActive bool) string {
	if len(entries) == 0 {
		return "  (no postings)"
	}

	var b strings.Builder
	for i, e := range entries {
		isSelected := isActive && i == cursor

		titleSt := entryTitleStyle
		subtitleSt := entrySubtitleStyle
		prefix := "  "
		if isSelected {
			titleSt = selectedTitleStyle
			subtitleSt = selectedSubtitleStyle
			prefix = "> "
		}

		b.WriteString(prefix)
		b.WriteString(titleSt.Render(e.Posting.Title))
		b.WriteByte('\n')

		verdict := "✓"
		if !e.Decision.Passed {
			verdict = "✗ " + string(e.Decision.RejectedBy)
		}
		b.WriteString(prefix)
		b.WriteString(subtitleSt.Render(fmt.Sprintf("%s · %s · %s", e.Posting.CompanyName, e.Posting.LocationText, verdict)))
		b.WriteByte('\n')

		if i < len(entries)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func wordWrap(text string, width int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) <= width {
			line += " " + w
		} else {
			lines = append(lines, line)
			line = w
		}
	}
	lines = append(lines, line)
	return strings.Join(lines, "\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// Run launches the split-pane preview. classifier may be nil; when set,
// the 's' key classifies the selected passing posting without storing it.
// Returns wantQuit=true if the user pressed q/ctrl+c, false if they pressed
// esc to return to the picker.
func Run(entries []Entry, classifier Classifier) (bool, error) {
	p := tea.NewProgram(newPreviewModel(entries, classifier), tea.WithAltScreen())
	result, err := p.Run()
	if err != nil {
		return false, err
	}
	return result.(previewModel).wantQuit, nil
}
