package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rahuls2764/Skill/pkg/models"
	"github.com/rahuls2764/Skill/pkg/utils"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

func (m model) View() string {
	if m.prompt != nil {
		return m.place(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center,
			titleStyle.Render("Wallet Request"),
			"\n",
			promptText(*m.prompt),
			"\n",
			subtleStyle.Render("(y) Approve • (n) Reject"),
		)))
	}
	if m.showHelp {
		return m.viewHelp()
	}
	if m.mode != inputNone {
		return m.place(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(m.inputTitle()),
			"\n",
			m.input.View(),
			"\n",
			subtleStyle.Render("Enter to submit • Esc to cancel"),
		)))
	}
	if m.showCourses {
		return m.viewCourses()
	}

	header := titleStyle.Render(fmt.Sprintf("SkillBridge %s", Version))
	sections := []string{header, m.viewSession(), m.viewBalance(), m.viewPending()}
	sections = append(sections, m.viewStatus(), subtleStyle.Render("c: connect • x: disconnect • t: test • e: enroll • b: buy • l: courses • ?: help • q: quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m model) place(content string) string {
	if m.width == 0 || m.height == 0 {
		return content
	}
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

func (m model) inputTitle() string {
	switch m.mode {
	case inputScore:
		return "Submit Skill Test"
	case inputCourse:
		return "Enroll in Course"
	case inputBuy:
		return "Buy Tokens"
	}
	return ""
}

func (m model) viewSession() string {
	s := m.session
	var lines []string
	switch s.State {
	case models.Connected:
		lines = append(lines, fmt.Sprintf("Account: %s", infoStyle.Render(s.WalletAddress.Hex())))
	case models.Connecting:
		lines = append(lines, fmt.Sprintf("%s Connecting...", m.spinner.View()))
	default:
		lines = append(lines, subtleStyle.Render("Wallet not connected (press c)"))
	}
	network := fmt.Sprintf("Network: %d", s.NetworkID)
	if s.WrongNetwork() {
		network = errStyle.Render(fmt.Sprintf("Network: %d (expected %d), switch networks to continue", s.NetworkID, s.ExpectedNetworkID))
	}
	if s.State == models.Connected {
		lines = append(lines, network)
	}
	if m.user != nil {
		test := "not taken"
		if m.user.HasCompletedTest {
			test = fmt.Sprintf("%d/10", m.user.TestScore)
		}
		lines = append(lines, fmt.Sprintf("Skill test: %s • Courses completed: %d • Enrolled: %d",
			test, m.user.CoursesCompleted, len(m.user.EnrolledCourseIDs)))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

func (m model) viewBalance() string {
	if m.session.State != models.Connected {
		return ""
	}
	amount := "loading..."
	if m.balance.Known() {
		amount = m.formatAmount(m.balance.Amount)
		if m.balance.Stale {
			amount += warnStyle.Render(" (stale)")
		}
		amount += subtleStyle.Render(fmt.Sprintf("  updated %s ago", time.Since(m.balance.FetchedAt).Truncate(time.Second)))
	}
	content := fmt.Sprintf("Balance: %s", amount)
	if len(m.history) >= 2 {
		width := m.width - 12
		if width < 20 {
			width = 40
		}
		graph := asciigraph.Plot(m.history,
			asciigraph.Height(6),
			asciigraph.Width(width),
			asciigraph.Caption(fmt.Sprintf("Balance history (%s)", m.deps.Config.TokenSymbol)),
		)
		content = lipgloss.JoinVertical(lipgloss.Left, content, graph)
	}
	return boxStyle.Render(content)
}

func (m model) viewPending() string {
	if len(m.pending) == 0 {
		return ""
	}
	rows := []string{tableHeaderStyle.Render(fmt.Sprintf("%-18s %-20s %-14s", "Kind", "State", "Tx"))}
	for i, p := range m.pending {
		if i >= 5 {
			break
		}
		rows = append(rows, fmt.Sprintf("%-18s %-20s %-14s", p.Kind, renderTxState(p), utils.TruncateString(p.Hash, 12)))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m model) viewStatus() string {
	if m.statusMessage == "" {
		if m.busy {
			return m.spinner.View()
		}
		return ""
	}
	if m.statusIsError {
		return errStyle.Render(m.statusMessage)
	}
	if m.busy {
		return m.spinner.View() + " " + infoStyle.Render(m.statusMessage)
	}
	return infoStyle.Render(m.statusMessage)
}

func (m model) viewCourses() string {
	title := titleStyle.Render("Courses")
	if m.busy && len(m.courses) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, m.spinner.View()+" Loading courses...")
	}
	footer := subtleStyle.Render("e: enroll • ↑/↓: scroll • l/q/esc: back")
	return lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View(), m.viewStatus(), footer)
}

func (m model) viewHelp() string {
	keys := [][2]string{
		{"c", "Connect wallet"},
		{"x", "Disconnect"},
		{"k", "Lock wallet"},
		{"r", "Refresh balance and profile"},
		{"t", "Take or retake the skill test"},
		{"e", "Enroll in a course"},
		{"b", "Buy tokens with ETH"},
		{"l", "List courses"},
		{"R", "Recheck an unconfirmed transaction"},
		{"y", "Copy address"},
		{"q", "Quit"},
	}
	var rows []string
	for _, k := range keys {
		rows = append(rows, fmt.Sprintf("%-4s %s", k[0], k[1]))
	}
	return m.place(boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Help"),
		"\n",
		strings.Join(rows, "\n"),
		"\n",
		subtleStyle.Render("?/q/esc: close"),
	)))
}
