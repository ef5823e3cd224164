package tui

import (
	"github.com/rahuls2764/Skill/pkg/models"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#7D56F4")
	good   = lipgloss.Color("#04B575")
	warn   = lipgloss.Color("#FFB86C")
	bad    = lipgloss.Color("#FF5555")
	muted  = lipgloss.Color("241")
)

var (
	subtleStyle = lipgloss.NewStyle().Foreground(muted)
	titleStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(accent).
			Padding(0, 1).
			Bold(true)
	infoStyle = lipgloss.NewStyle().Foreground(good)
	warnStyle = lipgloss.NewStyle().Foreground(warn)
	errStyle  = lipgloss.NewStyle().Foreground(bad)
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)
	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA")).
				Bold(true).
				Underline(true)
)

// txStateStyles colours the pending table's state column.
var txStateStyles = map[models.TxState]lipgloss.Style{
	models.TxBuilding:          subtleStyle,
	models.TxAwaitingSignature: warnStyle,
	models.TxSubmitted:         lipgloss.NewStyle().Foreground(accent),
	models.TxConfirmed:         infoStyle,
	models.TxFailed:            errStyle,
}

func renderTxState(p models.PendingTransaction) string {
	if p.TimedOut && !p.Done() {
		return warnStyle.Render("unconfirmed (R)")
	}
	style, ok := txStateStyles[p.State]
	if !ok {
		return string(p.State)
	}
	return style.Render(string(p.State))
}
