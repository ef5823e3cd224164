package tui

import (
	"context"
	"math/big"
	"time"

	"github.com/rahuls2764/Skill/pkg/config"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/models"
	"github.com/rahuls2764/Skill/pkg/orchestrator"
	"github.com/rahuls2764/Skill/pkg/wallet"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
)

// Version is set by Start()
var Version = "dev"

// historyLimit caps the balance history drawn in the graph.
const historyLimit = 120

// Session is the wallet session as the UI drives it.
type Session interface {
	Connect(ctx context.Context) (models.Session, error)
	Disconnect()
	Snapshot() models.Session
}

type Balances interface {
	Get(ctx context.Context, owner common.Address) models.BalanceSnapshot
	Refresh(ctx context.Context, owner common.Address) (models.BalanceSnapshot, error)
}

// Actions are the orchestrated workflows the UI can start.
type Actions interface {
	CompleteTest(ctx context.Context, score uint64) (orchestrator.TestOutcome, error)
	Enroll(ctx context.Context, courseID uint64) (models.CourseRecord, error)
	PurchaseTokens(ctx context.Context, wei *big.Int) (string, error)
	Recheck(ctx context.Context, hash string) (models.PendingTransaction, error)
	Courses(ctx context.Context) ([]models.CourseRecord, error)
	User(ctx context.Context) (models.UserRecord, error)
	Pending() []models.PendingTransaction
}

type Locker interface {
	Lock()
}

// Deps wires the UI to the core.
type Deps struct {
	Session  Session
	Balances Balances
	Actions  Actions
	Wallet   Locker
	Prompts  <-chan wallet.Prompt
	Bus      *events.Bus
	Config   config.Config
}

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time

type promptMsg wallet.Prompt

type connectedMsg struct {
	session models.Session
	err     error
}

type coursesMsg struct {
	courses []models.CourseRecord
	err     error
}

type userMsg struct {
	user models.UserRecord
	err  error
}

// actionMsg reports a finished workflow.
type actionMsg struct {
	label  string
	detail string
	err    error
}

type inputMode int

const (
	inputNone inputMode = iota
	inputScore
	inputCourse
	inputBuy
)

// --- Model ---

type model struct {
	ctx           context.Context
	deps          Deps
	sub           events.Subscriber
	width         int
	height        int
	busy          bool
	spinner       spinner.Model
	statusMessage string
	statusIsError bool
	lastUpdate    time.Time

	session  models.Session
	balance  models.BalanceSnapshot
	history  []float64
	user     *models.UserRecord
	courses  []models.CourseRecord
	pending  []models.PendingTransaction
	prompt   *wallet.Prompt
	showHelp bool

	showCourses bool
	viewport    viewport.Model

	mode  inputMode
	input textinput.Model
}

func initialModel(ctx context.Context, deps Deps) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textinput.New()
	ti.Width = 40

	m := model{
		ctx:      ctx,
		deps:     deps,
		spinner:  s,
		input:    ti,
		viewport: viewport.New(0, 0),
	}
	if deps.Bus != nil {
		m.sub = deps.Bus.Subscribe()
	}
	if deps.Session != nil {
		m.session = deps.Session.Snapshot()
	}
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.sub != nil {
		cmds = append(cmds, listenForBus(m.sub))
	}
	if m.deps.Prompts != nil {
		cmds = append(cmds, listenForPrompts(m.deps.Prompts))
	}
	if m.session.State == models.Connected {
		cmds = append(cmds, m.loadUser(), m.loadBalance())
	}
	cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))
	return tea.Batch(cmds...)
}
