package cli

import (
	"fmt"
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Progress view styles
var (
	barFilledStyle = lipgloss.NewStyle().Foreground(colorCyan)
	barEmptyStyle  = lipgloss.NewStyle().Foreground(colorDim)
	listDimStyle   = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	barWidth    = 30
	recentLimit = 5
)

// =============================================================================
// BatchModel - Live progress for the batch command
// =============================================================================

// batchDoneMsg is sent once every captcha has finished or the batch failed.
type batchDoneMsg struct{ err error }

// batchModel is the bubbletea model that renders batch progress. It only
// consumes events; the batch itself runs outside the program.
type batchModel struct {
	total       int
	done        int
	inFlight    map[int][2]int // captcha index -> frames done, frames total
	recent      []ManifestEntry
	err         error
	finished    bool
	interrupted bool
}

func newBatchModel(total int) batchModel {
	return batchModel{total: total, inFlight: make(map[int][2]int)}
}

func (m batchModel) Init() tea.Cmd {
	return nil
}

func (m batchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.interrupted = true
			return m, tea.Quit
		}
	case batchEvent:
		if msg.Entry == nil {
			m.inFlight[msg.Index] = [2]int{msg.Frames, msg.Total}
			return m, nil
		}
		delete(m.inFlight, msg.Index)
		m.done++
		m.recent = append(m.recent, *msg.Entry)
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
	case batchDoneMsg:
		m.finished = true
		m.err = msg.err
		clear(m.inFlight)
		return m, tea.Quit
	}
	return m, nil
}

func (m batchModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Rendering captchas"))
	b.WriteString("\n")
	if !m.finished {
		b.WriteString(listDimStyle.Render("q cancel"))
	}
	b.WriteString("\n\n")

	b.WriteString(renderBar(m.done, m.total, barWidth))
	b.WriteString(fmt.Sprintf("  %d/%d\n", m.done, m.total))

	indexes := make([]int, 0, len(m.inFlight))
	for i := range m.inFlight {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)
	for _, i := range indexes {
		f := m.inFlight[i]
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  #%-4d ", i+1)))
		b.WriteString(renderBar(f[0], f[1], barWidth/2))
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  %d/%d frames", f[0], f[1])))
		b.WriteString("\n")
	}

	if len(m.recent) > 0 {
		rows := make([][]string, len(m.recent))
		for i, e := range m.recent {
			rows[i] = []string{e.Text, e.File}
		}
		headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
			Headers("Text", "File").
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == -1 {
					return headerStyle
				}
				if col == 0 {
					return lipgloss.NewStyle().Foreground(colorGreen)
				}
				return lipgloss.NewStyle().Foreground(colorGray)
			})
		b.WriteString("\n")
		b.WriteString(t.Render())
		b.WriteString("\n")
	}

	switch {
	case m.err != nil:
		b.WriteString("\n" + styleIconError.Render(iconError) + " " + m.err.Error() + "\n")
	case m.interrupted:
		b.WriteString("\n" + StyleWarning.Render("cancelled") + "\n")
	}
	return b.String()
}

// renderBar draws a done/total bar width cells wide.
func renderBar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = min(width, done*width/total)
	}
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}
