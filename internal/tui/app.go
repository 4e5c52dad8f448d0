package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/chat"
	"ragchat/internal/store"
	"ragchat/internal/tokens"
	"ragchat/internal/turn"
)

// --- Tea Messages ---

// TokenMsg 流式回答的一个 token
// TokenMsg carries one streamed answer token
type TokenMsg struct {
	SessionID string
	MessageID string
	Token     string
}

// TurnDoneMsg 回合完成
// TurnDoneMsg indicates a turn finished, successfully or not
type TurnDoneMsg struct {
	Result turn.Result
}

// TurnRejectedMsg 回合未能启动（空问题、会话忙）
// TurnRejectedMsg indicates a turn never started (empty question, busy session)
type TurnRejectedMsg struct {
	Err error
}

// StoreChangedMsg 会话集合在事件循环之外发生了变更
// StoreChangedMsg indicates the session store changed outside the event loop
type StoreChangedMsg struct{}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	// 组件 / Components
	chatView viewport.Model
	input    textarea.Model
	spin     spinner.Model

	// 引擎 / Engine
	store   *store.Store
	ctrl    *turn.Controller
	meter   *tokens.Meter
	dataset string

	// 状态 / State
	streaming bool
	lastError string

	// 配置 / Config
	theme Theme
	keys  KeyMap
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(st *store.Store, ctrl *turn.Controller, meter *tokens.Meter, dataset, themeName string) App {
	ta := textarea.New()
	ta.Placeholder = "Ask about your documents..."
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return App{
		input:   ta,
		spin:    sp,
		store:   st,
		ctrl:    ctrl,
		meter:   meter,
		dataset: dataset,
		theme:   ThemeByName(themeName),
		keys:    DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return textarea.Blink
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit

		case key.Matches(msg, a.keys.Submit):
			return a.submit()

		case key.Matches(msg, a.keys.NewSession):
			if _, err := a.store.CreateSession(); err != nil {
				a.lastError = fmt.Sprintf("session limit reached (%d)", store.MaxSessions)
			} else {
				a.lastError = ""
			}
			a.refreshChat()
			return a, nil

		case key.Matches(msg, a.keys.NextSession):
			a.cycleSession(1)
			return a, nil

		case key.Matches(msg, a.keys.PrevSession):
			a.cycleSession(-1)
			return a, nil

		case key.Matches(msg, a.keys.DeleteSession):
			if id := a.store.ActiveID(); id != "" {
				a.store.DeleteSession(id)
			}
			a.refreshChat()
			return a, nil

		case key.Matches(msg, a.keys.PageUp):
			a.chatView.ViewUp()
			return a, nil

		case key.Matches(msg, a.keys.PageDown):
			a.chatView.ViewDown()
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case TokenMsg:
		// 控制器在发出 token 前已写入 store，这里只需重绘
		// The controller mutates the store before emitting, so a redraw suffices
		if msg.SessionID == a.store.ActiveID() {
			a.refreshChat()
		}
		return a, nil

	case TurnDoneMsg:
		a.streaming = false
		if msg.Result.Err != nil {
			a.lastError = msg.Result.Err.Error()
		}
		a.refreshChat()
		return a, nil

	case TurnRejectedMsg:
		switch {
		case errors.Is(msg.Err, turn.ErrTurnInFlight):
			// 首个回合仍在流式输出，spinner 保持
			// The first turn is still streaming; the spinner stays on
			a.lastError = "an answer is already streaming in this session"
		case errors.Is(msg.Err, turn.ErrEmptyQuestion):
			a.streaming = false
			a.lastError = ""
		default:
			a.streaming = false
			a.lastError = msg.Err.Error()
		}
		return a, nil

	case StoreChangedMsg:
		a.refreshChat()
		return a, nil

	case spinner.TickMsg:
		if a.streaming {
			var cmd tea.Cmd
			a.spin, cmd = a.spin.Update(msg)
			return a, cmd
		}
		return a, nil
	}

	// 更新输入区 / Update input area
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := a.width * 25 / 100
	if sidebarWidth < 22 {
		sidebarWidth = 22
	}
	if sidebarWidth > 36 {
		sidebarWidth = 36
	}
	if a.width < 80 {
		sidebarWidth = 0
	}

	mainWidth := a.width - sidebarWidth
	if sidebarWidth > 0 {
		mainWidth-- // border
	}

	inputHeight := 5
	statusHeight := 1
	panelHeight := a.height - inputHeight - statusHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	panel := lipgloss.NewStyle().
		Width(mainWidth).
		Height(panelHeight).
		Render(a.chatView.View())
	inputBox := a.theme.InputStyle.Width(mainWidth).Render(a.input.View())

	main := lipgloss.JoinVertical(lipgloss.Left, panel, inputBox)

	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, sidebar, main)
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, a.renderStatusBar(a.width))
}

// --- 内部方法 / Internal methods ---

func (a App) submit() (tea.Model, tea.Cmd) {
	question := strings.TrimSpace(a.input.Value())
	if question == "" {
		return a, nil
	}
	sess, ok := a.store.Active()
	if !ok {
		a.lastError = "no session; press ctrl+n to create one"
		return a, nil
	}

	a.input.Reset()
	a.lastError = ""
	a.streaming = true

	ctrl := a.ctrl
	dataset := a.dataset
	sessionID := sess.ID
	runTurn := func() tea.Msg {
		if err := ctrl.RunTurn(context.Background(), question, dataset, sessionID); err != nil {
			return TurnRejectedMsg{Err: err}
		}
		return nil
	}
	return a, tea.Batch(a.spin.Tick, runTurn)
}

func (a *App) cycleSession(step int) {
	sessions := a.store.Sessions()
	if len(sessions) == 0 {
		return
	}
	idx := 0
	for i, sess := range sessions {
		if sess.ID == a.store.ActiveID() {
			idx = i
			break
		}
	}
	idx = (idx + step + len(sessions)) % len(sessions)
	a.store.SelectSession(sessions[idx].ID)
	a.refreshChat()
}

func (a *App) relayout() {
	mainWidth := a.width
	panelHeight := a.height - 8
	if panelHeight < 3 {
		panelHeight = 3
	}

	a.chatView = viewport.New(mainWidth, panelHeight)
	a.input.SetWidth(mainWidth - 4)
	a.refreshChat()
}

// refreshChat 从 store 重建当前会话的聊天内容
// refreshChat rebuilds the chat panel from the active session
func (a *App) refreshChat() {
	sess, ok := a.store.Active()
	if !ok {
		a.chatView.SetContent(a.theme.MutedStyle.Render("  No sessions. Press ctrl+n to create one."))
		return
	}
	a.chatView.SetContent(RenderTranscript(sess, a.chatView.Width, a.streaming, a.theme))
	a.chatView.GotoBottom()
}

// --- 渲染方法 / Render methods ---

func (a App) renderSidebar(width, height int) string {
	sessions := a.store.Sessions()
	activeID := a.store.ActiveID()

	var parts []string
	parts = append(parts, a.theme.TitleStyle.Render(" ragchat"))
	parts = append(parts, "")
	parts = append(parts, a.theme.TitleStyle.Render(fmt.Sprintf(" Sessions %d/%d", len(sessions), store.MaxSessions)))

	for _, sess := range sessions {
		label := " " + sessionLabel(sess, width-4)
		if sess.ID == activeID {
			parts = append(parts, a.theme.ActiveSessionStyle.Width(width-2).Render(label))
		} else {
			parts = append(parts, a.theme.SessionStyle.Render(label))
		}
	}

	parts = append(parts, "")
	parts = append(parts, a.theme.TitleStyle.Render(" Dataset"))
	parts = append(parts, "  "+a.dataset)

	if sess, ok := a.store.Active(); ok {
		parts = append(parts, "")
		parts = append(parts, a.theme.TitleStyle.Render(" Context"))
		approx := "~"
		if a.meter.IsPrecise() {
			approx = ""
		}
		parts = append(parts, fmt.Sprintf("  %s%d tokens", approx, a.meter.CountSession(sess)))
	}

	return a.theme.SidebarStyle.Width(width).Height(height).Render(strings.Join(parts, "\n"))
}

func (a App) renderStatusBar(width int) string {
	var left string
	switch {
	case a.streaming:
		left = " " + a.spin.View() + " answering..."
	case a.lastError != "":
		left = " " + a.theme.ErrorStyle.Render(a.lastError)
	case a.store.Status() != "":
		left = " " + a.store.Status()
	default:
		left = " ready"
	}

	right := "enter ask · ctrl+n new · tab switch · ctrl+d delete · ctrl+c quit  "

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	return a.theme.StatusBarStyle.Width(width).Render(left + strings.Repeat(" ", gap) + right)
}

func sessionLabel(sess chat.Session, width int) string {
	title := sess.Title
	if title == "" {
		title = chat.TitleUntitled
	}
	runes := []rune(title)
	if width > 3 && len(runes) > width {
		title = string(runes[:width-3]) + "..."
	}
	return title
}

// Run 启动 Bubble Tea TUI，并把回合回调接到事件循环上
// Run starts the Bubble Tea TUI and wires turn callbacks into the event loop
func Run(st *store.Store, ctrl *turn.Controller, meter *tokens.Meter, dataset, themeName string) error {
	app := NewApp(st, ctrl, meter, dataset, themeName)
	p := tea.NewProgram(app, tea.WithAltScreen())

	ctrl.SetTokenCallback(func(sessionID, messageID, token string) {
		p.Send(TokenMsg{SessionID: sessionID, MessageID: messageID, Token: token})
	})
	ctrl.SetDoneCallback(func(res turn.Result) {
		p.Send(TurnDoneMsg{Result: res})
	})
	// 监听器在 store 锁内运行，异步转发，事件循环的自身变更不会阻塞
	// The listener runs under the store lock; forward asynchronously so a
	// mutation made from inside Update never blocks on the event loop
	st.SetChangeListener(func() {
		go p.Send(StoreChangedMsg{})
	})

	_, err := p.Run()
	return err
}
