package tui

import (
	"fmt"
	"math/big"

	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/models"

	tea "github.com/charmbracelet/bubbletea"
)

var errNotWired = errs.New(errs.ProviderUnavailable, "not available in this mode")

func (m model) connect() tea.Cmd {
	session, ctx := m.deps.Session, m.ctx
	return func() tea.Msg {
		if session == nil {
			return connectedMsg{err: errNotWired}
		}
		s, err := session.Connect(ctx)
		return connectedMsg{session: s, err: err}
	}
}

func (m model) loadUser() tea.Cmd {
	actions, ctx := m.deps.Actions, m.ctx
	return func() tea.Msg {
		if actions == nil {
			return userMsg{err: errNotWired}
		}
		u, err := actions.User(ctx)
		return userMsg{user: u, err: err}
	}
}

// loadBalance reads through the cache; a fresh value arrives as a bus event.
func (m model) loadBalance() tea.Cmd {
	balances, ctx, owner := m.deps.Balances, m.ctx, m.session.WalletAddress
	return func() tea.Msg {
		if balances == nil {
			return nil
		}
		balances.Get(ctx, owner)
		return nil
	}
}

func (m model) refreshBalance() tea.Cmd {
	balances, ctx, owner := m.deps.Balances, m.ctx, m.session.WalletAddress
	if m.session.State != models.Connected {
		return nil
	}
	return func() tea.Msg {
		if balances == nil {
			return nil
		}
		_, _ = balances.Refresh(ctx, owner)
		return nil
	}
}

func (m model) loadCourses() tea.Cmd {
	actions, ctx := m.deps.Actions, m.ctx
	return func() tea.Msg {
		if actions == nil {
			return coursesMsg{err: errNotWired}
		}
		courses, err := actions.Courses(ctx)
		return coursesMsg{courses: courses, err: err}
	}
}

func (m model) completeTest(score uint64) tea.Cmd {
	actions, ctx := m.deps.Actions, m.ctx
	return func() tea.Msg {
		if actions == nil {
			return actionMsg{label: "Test", err: errNotWired}
		}
		out, err := actions.CompleteTest(ctx, score)
		if err != nil {
			return actionMsg{label: "Test", err: err}
		}
		detail := fmt.Sprintf("score %d/10 recorded, earned %s", score, m.formatAmount(out.Reward))
		if out.Retake {
			detail = fmt.Sprintf("retake scored %d/10, earned %s", score, m.formatAmount(out.Reward))
		}
		return actionMsg{label: "Test", detail: detail}
	}
}

func (m model) enroll(id uint64) tea.Cmd {
	actions, ctx := m.deps.Actions, m.ctx
	return func() tea.Msg {
		if actions == nil {
			return actionMsg{label: "Enroll", err: errNotWired}
		}
		course, err := actions.Enroll(ctx, id)
		if err != nil {
			return actionMsg{label: "Enroll", err: err}
		}
		return actionMsg{label: "Enroll", detail: fmt.Sprintf("enrolled in %q", course.Title)}
	}
}

func (m model) purchase(wei *big.Int) tea.Cmd {
	actions, ctx := m.deps.Actions, m.ctx
	return func() tea.Msg {
		if actions == nil {
			return actionMsg{label: "Buy", err: errNotWired}
		}
		hash, err := actions.PurchaseTokens(ctx, wei)
		if err != nil {
			return actionMsg{label: "Buy", err: err}
		}
		return actionMsg{label: "Buy", detail: "tokens purchased in " + hash}
	}
}

func (m model) recheck(hash string) tea.Cmd {
	actions, ctx := m.deps.Actions, m.ctx
	return func() tea.Msg {
		if actions == nil {
			return actionMsg{label: "Recheck", err: errNotWired}
		}
		rec, err := actions.Recheck(ctx, hash)
		if err != nil {
			return actionMsg{label: "Recheck", err: err}
		}
		return actionMsg{label: "Recheck", detail: fmt.Sprintf("%s is %s", hash, rec.State)}
	}
}
