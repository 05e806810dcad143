package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"labelctl/internal/orchestrator"
)

const defaultWidth = 80

// View implements tea.Model.
func (m *model) View() string {
	width := m.width
	if width <= 0 {
		width = defaultWidth
	}

	sections := []string{m.renderHeader(width)}

	if !m.loaded {
		loading := m.spinner.View() + " Loading status..."
		if m.fetchErr != nil {
			loading = errorStyle.Render(IconCross + " " + m.fetchErr.Error())
		}
		sections = append(sections, loading)
	} else {
		sections = append(sections,
			m.renderPanel("Printer", printerLines(m.snap), width),
			m.renderPanel("Tunnel", tunnelLines(m.snap), width),
			m.renderPanel("Ports", portLines(m.snap), width),
		)
		if m.fetchErr != nil {
			sections = append(sections, warnStyle.Render(IconWarning+" refresh failed: "+m.fetchErr.Error()))
		}
	}

	if m.showLog {
		sections = append(sections, m.renderPanel("Log", m.visibleLogLines(), width))
	}
	if m.notice != "" {
		sections = append(sections, m.notice)
	}
	sections = append(sections, m.renderFooter(width))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *model) renderHeader(width int) string {
	title := m.opts.Title
	if !m.lastUpdate.IsZero() {
		title += "  updated " + m.lastUpdate.Format("15:04:05")
	}
	return headerStyle.Width(width).Render(truncate(title, width-4))
}

func (m *model) renderPanel(title string, lines []string, width int) string {
	inner := width - panelStyle.GetHorizontalFrameSize()
	if inner < 10 {
		inner = 10
	}
	body := make([]string, 0, len(lines)+1)
	body = append(body, panelTitleStyle.Render(title))
	for _, l := range lines {
		body = append(body, truncate(l, inner))
	}
	return panelStyle.Width(inner).Render(strings.Join(body, "\n"))
}

func (m *model) renderFooter(width int) string {
	bindings := m.keys.ShortHelp()
	if !m.showHelp {
		return footerStyle.Render(truncate("h help  q quit", width))
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return footerStyle.Render(truncate(strings.Join(parts, "  •  "), width))
}

// visibleLogLines returns the tail of the log that fits the terminal.
func (m *model) visibleLogLines() []string {
	n := 8
	if m.height > 0 {
		// header, three panels and footer take roughly 22 lines
		if avail := m.height - 22; avail > n {
			n = avail
		}
	}
	if len(m.logLines) == 0 {
		return []string{mutedStyle.Render("no log entries yet")}
	}
	if len(m.logLines) <= n {
		return m.logLines
	}
	return m.logLines[len(m.logLines)-n:]
}

func printerLines(snap orchestrator.Snapshot) []string {
	p := snap.Printer
	if p.Name == "" {
		return []string{mutedStyle.Render("no printer registered")}
	}
	lines := []string{
		field("Name", p.Name),
		field("State", stateIcon(p.State)+" "+stateStyle(p.State).Render(p.State)),
		field("Connection", p.Connection),
	}
	if others := len(snap.Printers) - 1; others > 0 {
		lines = append(lines, mutedStyle.Render(fmt.Sprintf("+%d more", others)))
	}
	return lines
}

func tunnelLines(snap orchestrator.Snapshot) []string {
	t := snap.Tunnel
	lines := []string{
		field("Provider", t.Provider),
		field("State", stateIcon(t.State)+" "+stateStyle(t.State).Render(t.State)),
	}
	if t.Domain != "" {
		lines = append(lines, field("Domain", t.Domain))
	}
	if t.PublicURL != "" {
		lines = append(lines, field("URL", IconLink+" "+t.PublicURL))
	}
	if t.LastVerified != nil {
		lines = append(lines, field("Verified", t.LastVerified.Format("15:04:05")))
	}
	if t.LastError != "" {
		lines = append(lines, field("Error", errorStyle.Render(t.LastError)))
	}
	return lines
}

func portLines(snap orchestrator.Snapshot) []string {
	if len(snap.Ports) == 0 {
		return []string{mutedStyle.Render("no ports bound")}
	}
	lines := make([]string, 0, len(snap.Ports))
	for _, p := range snap.Ports {
		line := fmt.Sprintf("%-10s %5d/%s", p.Service, p.Bound, p.Protocol)
		if p.Bound != p.Requested {
			line += mutedStyle.Render(fmt.Sprintf("  (requested %d)", p.Requested))
		}
		lines = append(lines, line)
	}
	return lines
}

func field(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-11s", label)) + value
}

// truncate shortens s to width display cells. Styled lines that already fit
// are returned untouched.
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
