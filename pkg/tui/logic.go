package tui

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/models"
	"github.com/rahuls2764/Skill/pkg/orchestrator"
	"github.com/rahuls2764/Skill/pkg/utils"
	"github.com/rahuls2764/Skill/pkg/wallet"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

func listenForBus(sub events.Subscriber) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return nil
		}
		return ev
	}
}

func listenForPrompts(ch <-chan wallet.Prompt) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return promptMsg(p)
	}
}

// applyEvent folds a core event into the model.
func (m *model) applyEvent(ev events.Event) {
	switch ev.Type {
	case events.EventSessionChanged:
		if s, ok := ev.Data.(models.Session); ok {
			if s.WalletAddress != m.session.WalletAddress || s.State != models.Connected {
				m.history = nil
				m.balance = models.BalanceSnapshot{}
				m.user = nil
				m.courses = nil
			}
			m.session = s
		}
	case events.EventBalanceUpdated:
		if snap, ok := ev.Data.(models.BalanceSnapshot); ok && snap.Owner == m.session.WalletAddress {
			m.balance = snap
			m.pushHistory(snap.Amount)
		}
	case events.EventBalanceUnavailable:
		if data, ok := ev.Data.(map[string]string); ok && data["owner"] == m.session.WalletAddress.Hex() {
			m.balance.Stale = true
		}
	case events.EventTxUpdated:
		if rec, ok := ev.Data.(models.PendingTransaction); ok {
			m.upsertPending(rec)
		}
	case events.EventReport:
		if r, ok := ev.Data.(orchestrator.Report); ok {
			m.statusMessage = r.Message
			m.statusIsError = true
		}
	}
}

func (m *model) pushHistory(amount *big.Int) {
	if amount == nil {
		return
	}
	v := utils.BigFloatToFloat64(utils.FromUnits(amount, m.deps.Config.TokenDecimals))
	m.history = append(m.history, v)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// upsertPending replaces the record with the same hash, or the unsent
// record of the same account and kind, or prepends a new one.
func (m *model) upsertPending(rec models.PendingTransaction) {
	same := func(p models.PendingTransaction) bool {
		return p.Kind == rec.Kind && p.Account == rec.Account
	}
	if rec.Hash != "" {
		for i, p := range m.pending {
			if same(p) && p.Hash == rec.Hash {
				m.pending[i] = rec
				return
			}
		}
	}
	for i, p := range m.pending {
		if same(p) && p.Hash == "" && !p.Done() {
			m.pending[i] = rec
			return
		}
	}
	m.pending = append([]models.PendingTransaction{rec}, m.pending...)
	if len(m.pending) > 50 {
		m.pending = m.pending[:50]
	}
}

// timedOut returns the newest transaction whose confirmation wait gave up.
func (m model) timedOut() (models.PendingTransaction, bool) {
	for _, p := range m.pending {
		if p.TimedOut && !p.Done() {
			return p, true
		}
	}
	return models.PendingTransaction{}, false
}

func (m model) formatAmount(v *big.Int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s", utils.FormatUnits(v, m.deps.Config.TokenDecimals, m.deps.Config.DisplayDecimals), m.deps.Config.TokenSymbol)
}

// parseScore accepts the number of correct answers out of ten.
func parseScore(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n > 10 {
		return 0, fmt.Errorf("score must be a number from 0 to 10")
	}
	return n, nil
}

func parseCourseID(s string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("course id must be a positive number")
	}
	return n, nil
}

// parseEther converts a decimal ETH amount to wei.
func parseEther(s string) (*big.Int, error) {
	wei, err := utils.ParseUnits(strings.TrimSpace(s), 18)
	if err != nil || wei.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be a positive ETH value")
	}
	return wei, nil
}

// describeError renders an error for the status line.
func describeError(err error) string {
	switch errs.KindOf(err) {
	case errs.UserRejected:
		return "Request rejected in wallet"
	case errs.WrongNetwork:
		return "Wallet is on the wrong network"
	case errs.StaleSession:
		return "Wallet not connected"
	case errs.ConfirmationTimeout:
		return "Not confirmed yet, press R to recheck"
	}
	return err.Error()
}

func promptText(p wallet.Prompt) string {
	req := p.Request
	switch req.Kind {
	case wallet.RequestConnect:
		var addrs []string
		for _, a := range req.Accounts {
			addrs = append(addrs, utils.ShortAddress(a.Hex()))
		}
		return fmt.Sprintf("Connect account(s) %s?", strings.Join(addrs, ", "))
	case wallet.RequestSign:
		to := "contract creation"
		if req.Tx != nil && req.Tx.To() != nil {
			to = utils.ShortAddress(req.Tx.To().Hex())
		}
		value := "0"
		if req.Tx != nil && req.Tx.Value() != nil {
			value = utils.FormatUnits(req.Tx.Value(), 18, 6)
		}
		return fmt.Sprintf("Sign transaction from %s to %s (value %s ETH)?", utils.ShortAddress(req.Account.Hex()), to, value)
	}
	return fmt.Sprintf("Approve %s request?", req.Kind)
}

func (m *model) updateCoursesViewport() {
	if len(m.courses) == 0 {
		m.viewport.SetContent("No active courses.")
		return
	}
	var rows []string
	rows = append(rows, tableHeaderStyle.Render(fmt.Sprintf("%-4s %-28s %-12s %14s %8s", "ID", "Title", "Category", "Price", "Students")))
	for _, c := range m.courses {
		mark := " "
		if c.Enrolled {
			mark = infoStyle.Render("✓")
		}
		rows = append(rows, fmt.Sprintf("%s%-3d %-28s %-12s %14s %8d",
			mark, c.ID,
			utils.TruncateString(c.Title, 28),
			utils.TruncateString(c.Category, 12),
			m.formatAmount(c.Price),
			c.EnrollmentCount))
	}
	m.viewport.SetContent(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
