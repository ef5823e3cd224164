package tui

import (
	"fmt"
	"time"

	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/models"
	"github.com/rahuls2764/Skill/pkg/wallet"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
)

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return clearStatusMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = msg.Height - 8

	case events.Event:
		// Re-subscribe to next event
		cmds = append(cmds, listenForBus(m.sub))
		prev := m.session
		m.applyEvent(msg)
		m.lastUpdate = time.Now()
		if msg.Type == events.EventReport {
			cmds = append(cmds, clearStatusAfter(5*time.Second))
		}
		if msg.Type == events.EventSessionChanged && m.session.State == models.Connected &&
			(prev.State != models.Connected || prev.WalletAddress != m.session.WalletAddress) {
			cmds = append(cmds, m.loadUser(), m.loadBalance())
		}

	case promptMsg:
		p := wallet.Prompt(msg)
		m.prompt = &p
		cmds = append(cmds, listenForPrompts(m.deps.Prompts))

	case connectedMsg:
		m.busy = false
		if msg.err != nil {
			m.statusMessage = describeError(msg.err)
			m.statusIsError = true
		} else {
			m.session = msg.session
			m.statusMessage = "Wallet connected"
			m.statusIsError = false
			cmds = append(cmds, m.loadUser(), m.loadBalance())
		}
		cmds = append(cmds, clearStatusAfter(3*time.Second))

	case userMsg:
		if msg.err == nil {
			u := msg.user
			m.user = &u
		}

	case coursesMsg:
		m.busy = false
		if msg.err != nil {
			m.statusMessage = describeError(msg.err)
			m.statusIsError = true
			cmds = append(cmds, clearStatusAfter(3*time.Second))
		} else {
			m.courses = msg.courses
			m.updateCoursesViewport()
		}

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.statusMessage = fmt.Sprintf("%s failed: %s", msg.label, describeError(msg.err))
			m.statusIsError = true
		} else {
			m.statusMessage = fmt.Sprintf("%s: %s", msg.label, msg.detail)
			m.statusIsError = false
			cmds = append(cmds, m.loadUser())
			if m.showCourses {
				cmds = append(cmds, m.loadCourses())
			}
		}
		cmds = append(cmds, clearStatusAfter(5*time.Second))

	case tea.KeyMsg:
		if m.prompt != nil {
			switch msg.String() {
			case "y", "enter":
				m.prompt.Answer(true)
				m.prompt = nil
			case "n", "esc":
				m.prompt.Answer(false)
				m.prompt = nil
			}
			return m, nil
		}
		if m.mode != inputNone {
			return m.updateInput(msg)
		}
		if msg.String() == "?" {
			m.showHelp = !m.showHelp
			return m, nil
		}
		if m.showHelp {
			if msg.String() == "q" || msg.String() == "esc" {
				m.showHelp = false
			}
			return m, nil
		}
		if m.showCourses {
			switch msg.String() {
			case "q", "esc", "l":
				m.showCourses = false
				return m, nil
			case "e":
				return m.startInput(inputCourse, "Course ID"), nil
			}
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			if m.session.State != models.Connected && !m.busy {
				m.busy = true
				m.statusMessage = "Waiting for wallet..."
				m.statusIsError = false
				cmds = append(cmds, m.connect())
			}
		case "x":
			if m.deps.Session != nil {
				m.deps.Session.Disconnect()
				m.statusMessage = "Disconnected"
				cmds = append(cmds, clearStatusAfter(2*time.Second))
			}
		case "k":
			if m.deps.Wallet != nil {
				m.deps.Wallet.Lock()
				m.statusMessage = "Wallet locked"
				cmds = append(cmds, clearStatusAfter(2*time.Second))
			}
		case "r":
			cmds = append(cmds, m.refreshBalance(), m.loadUser())
			m.statusMessage = "Refreshing data..."
			cmds = append(cmds, clearStatusAfter(2*time.Second))
		case "t":
			m = m.startInput(inputScore, "Correct answers (0-10)")
		case "e":
			m = m.startInput(inputCourse, "Course ID")
		case "b":
			m = m.startInput(inputBuy, "ETH to spend")
		case "l":
			m.showCourses = true
			m.busy = true
			cmds = append(cmds, m.loadCourses())
		case "R":
			if rec, ok := m.timedOut(); ok {
				m.busy = true
				cmds = append(cmds, m.recheck(rec.Hash))
			} else {
				m.statusMessage = "Nothing to recheck"
				cmds = append(cmds, clearStatusAfter(2*time.Second))
			}
		case "y":
			if m.session.State == models.Connected {
				if err := clipboard.WriteAll(m.session.WalletAddress.Hex()); err != nil {
					m.statusMessage = "Failed to copy to clipboard"
				} else {
					m.statusMessage = "Address copied to clipboard!"
				}
				cmds = append(cmds, clearStatusAfter(2*time.Second))
			}
		}

	case uiTickMsg:
		cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))

	case clearStatusMsg:
		m.statusMessage = ""
		m.statusIsError = false
	}

	if m.busy {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m model) startInput(mode inputMode, placeholder string) model {
	m.mode = mode
	m.input.Reset()
	m.input.Placeholder = placeholder
	m.input.Focus()
	return m
}

func (m model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case "enter":
		mode, value := m.mode, m.input.Value()
		m.mode = inputNone
		m.input.Blur()
		cmd, err := m.submit(mode, value)
		if err != nil {
			m.statusMessage = err.Error()
			m.statusIsError = true
			return m, clearStatusAfter(3 * time.Second)
		}
		m.busy = true
		m.statusMessage = "Working..."
		m.statusIsError = false
		return m, tea.Batch(cmd, m.spinner.Tick)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit validates the input and returns the command that runs the
// workflow.
func (m model) submit(mode inputMode, value string) (tea.Cmd, error) {
	switch mode {
	case inputScore:
		score, err := parseScore(value)
		if err != nil {
			return nil, err
		}
		return m.completeTest(score), nil
	case inputCourse:
		id, err := parseCourseID(value)
		if err != nil {
			return nil, err
		}
		return m.enroll(id), nil
	case inputBuy:
		wei, err := parseEther(value)
		if err != nil {
			return nil, err
		}
		return m.purchase(wei), nil
	}
	return nil, fmt.Errorf("nothing to submit")
}
