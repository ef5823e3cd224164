package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

func Start(ctx context.Context, deps Deps, version string) error {
	Version = version
	m := initialModel(ctx, deps)
	if m.sub != nil {
		defer deps.Bus.Unsubscribe(m.sub)
	}
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("alas, there's been an error: %w", err)
	}
	return nil
}
