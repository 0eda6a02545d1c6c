package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"depot-chat/internal/chat"
	"depot-chat/internal/clipboard"
	"depot-chat/internal/config"
	"depot-chat/internal/export"
	"depot-chat/internal/highlight"
	"depot-chat/internal/session"
	"depot-chat/internal/voice"
)

// SessionStore is the part of *session.Store the UI needs.
type SessionStore interface {
	chat.Identity
	IsLoggedIn() bool
	Login(ctx context.Context, userCode string, role session.Role) error
	Logout(ctx context.Context) error
}

type Backend interface {
	chat.Backend
	chat.HistorySource
}

type Deps struct {
	Config  config.AppConfig
	Store   SessionStore
	Backend Backend
	// Recorder and Speaker are optional.
	Recorder chat.Recorder
	Speaker  chat.Speaker
	Exporter *export.Exporter
	Logger   *zap.Logger
	// Start is the path the program opens on. Empty means the root.
	Start string
}

type Model struct {
	deps Deps
	log  *zap.Logger
	loc  *time.Location

	screen Screen
	login  loginModel

	ctrl     *chat.Controller
	viewport viewport.Model
	input    textinput.Model
	search   textinput.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap

	width  int
	height int

	searchMode  bool
	searchQuery string
	rendered    string
	renderNonce int
	matchLines  []int
	matchCount  int
	matchLine   int
	noticeSeq   uint64

	confirmLogout bool
	status        string
	err           error
}

type loginDoneMsg struct{ err error }
type logoutDoneMsg struct{ err error }
type historyMsg struct {
	ctrl *chat.Controller
	err  error
}
type sendDoneMsg struct {
	ctrl  *chat.Controller
	voice bool
	err   error
}
type recordTickMsg struct{ ctrl *chat.Controller }
type noticeExpireMsg struct {
	ctrl *chat.Controller
	seq  uint64
}
type exportMsg struct {
	path string
	err  error
}
type copyMsg struct{ err error }

func NewModel(deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Config.GlamourStyle == "" {
		deps.Config.GlamourStyle = config.DefaultGlamourStyle
	}

	in := textinput.New()
	in.Placeholder = "Type a message..."
	in.Prompt = "› "
	in.CharLimit = 4000

	search := textinput.New()
	search.Placeholder = "Search conversation..."
	search.Prompt = "/ "
	search.CharLimit = 256

	sp := spinner.New()
	sp.Spinner = spinner.Points

	m := Model{
		deps:      deps,
		log:       deps.Logger,
		loc:       time.Local,
		login:     newLoginModel(),
		viewport:  viewport.New(60, 20),
		input:     in,
		search:    search,
		spinner:   sp,
		help:      help.New(),
		keys:      defaultKeys(),
		matchLine: -1,
	}
	start := deps.Start
	if start == "" {
		start = PathRoot
	}
	m.screen = Resolve(start, deps.Store.IsLoggedIn())
	return m
}

func (m Model) Init() tea.Cmd {
	return func() tea.Msg { return navigateMsg{path: m.pathFor(m.screen)} }
}

type navigateMsg struct{ path string }

func (m Model) pathFor(s Screen) string {
	if s == ScreenChat {
		return PathChat
	}
	return PathLogin
}

// navigate applies the routing rules and mounts or unmounts the chat
// screen accordingly.
func (m *Model) navigate(path string) tea.Cmd {
	m.screen = Resolve(path, m.deps.Store.IsLoggedIn())
	switch m.screen {
	case ScreenChat:
		if m.ctrl == nil {
			return m.mountChat()
		}
	case ScreenLogin:
		if m.ctrl != nil {
			m.unmountChat()
		}
		m.login.reset()
		if m.width > 0 {
			m.login.setSize(m.width, m.height)
		}
	}
	return nil
}

func (m *Model) mountChat() tea.Cmd {
	m.ctrl = chat.NewController(context.Background(), chat.ControllerOptions{
		Backend:  m.deps.Backend,
		History:  m.deps.Backend,
		Identity: m.deps.Store,
		Recorder: m.deps.Recorder,
		Speaker:  m.deps.Speaker,
		Logger:   m.log,
	})
	m.keys.voiceActive = m.ctrl.VoiceEnabled()
	m.input.SetValue("")
	m.rendered = ""
	m.searchQuery = ""
	m.searchMode = false
	m.clearMatches()
	m.status = ""
	m.err = nil
	m.resize()

	ctrl := m.ctrl
	return tea.Batch(
		m.input.Focus(),
		func() tea.Msg { return historyMsg{ctrl: ctrl, err: ctrl.LoadHistory()} },
		m.refresh(),
	)
}

func (m *Model) unmountChat() {
	m.ctrl.Close()
	m.ctrl = nil
	m.confirmLogout = false
	m.input.Blur()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		m.login.setSize(m.width, m.height)
		cmds = append(cmds, m.refresh())

	case navigateMsg:
		cmds = append(cmds, m.navigate(msg.path))

	case loginSubmitMsg:
		store := m.deps.Store
		cmds = append(cmds, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return loginDoneMsg{err: store.Login(ctx, msg.userCode, msg.role)}
		})

	case loginDoneMsg:
		m.login.busy = false
		if msg.err != nil {
			m.log.Error("login", zap.Error(msg.err))
			m.login.err = "Sign-in failed: " + msg.err.Error()
			break
		}
		cmds = append(cmds, m.navigate(PathChat))

	case logoutDoneMsg:
		if msg.err != nil {
			m.log.Error("logout", zap.Error(msg.err))
			m.err = msg.err
			m.status = "Logout failed: " + msg.err.Error()
			break
		}
		cmds = append(cmds, m.navigate(PathLogin))

	case historyMsg:
		if msg.ctrl != m.ctrl {
			break
		}
		if msg.err != nil && !errors.Is(msg.err, chat.ErrClosed) {
			m.err = msg.err
		}
		cmds = append(cmds, m.refresh(), m.noticeCmd())

	case sendDoneMsg:
		if msg.ctrl != m.ctrl {
			break
		}
		if msg.err == nil && msg.voice && m.deps.Config.AutoSpeak {
			if reply, ok := m.ctrl.Conversation.LastAssistant(); ok {
				m.ctrl.Speak(reply)
			}
		}
		cmds = append(cmds, m.refresh(), m.noticeCmd())

	case recordTickMsg:
		if msg.ctrl == m.ctrl && m.ctrl != nil && m.ctrl.RecorderState() == voice.Recording {
			cmds = append(cmds, recordTick(m.ctrl))
		}

	case noticeExpireMsg:
		if msg.ctrl == m.ctrl && m.ctrl != nil {
			m.ctrl.Notices.Expire(msg.seq)
		}

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendered = msg.rendered
		m.setViewportFromRendered(m.searchQuery == "")

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.err = nil
			m.status = "Exported: " + msg.path
		}

	case copyMsg:
		if msg.err != nil {
			m.err = msg.err
			if errors.Is(msg.err, clipboard.ErrToolNotFound) {
				m.status = "Could not copy: clipboard tool not found"
			} else {
				m.status = "Could not copy: " + msg.err.Error()
			}
		} else {
			m.err = nil
			m.status = "Copied last reply to clipboard"
		}

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.KeyMsg:
		if m.screen == ScreenLogin {
			var cmd tea.Cmd
			m.login, cmd = m.login.Update(msg)
			return m, cmd
		}
		return m.updateChatKey(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updateChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.ctrl == nil {
		return m, nil
	}

	if m.confirmLogout {
		m.confirmLogout = false
		if strings.EqualFold(msg.String(), "y") {
			// unmountChat closes the scope once the store has cleared the session.
			m.status = "Logging out..."
			return m, m.logoutCmd()
		}
		m.status = ""
		return m, nil
	}

	if m.searchMode {
		return m.updateSearchKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.ctrl.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Send):
		m.ctrl.Composer.SetPending(m.input.Value())
		send, ok := m.ctrl.BeginText()
		if !ok {
			if m.ctrl.Composer.InFlight() {
				m.status = "Still waiting for the previous reply"
			}
			return m, nil
		}
		m.input.SetValue("")
		m.status = ""
		ctrl := m.ctrl
		return m, tea.Batch(
			func() tea.Msg { return sendDoneMsg{ctrl: ctrl, err: ctrl.RunText(send)} },
			m.spinner.Tick,
			m.refresh(),
		)

	case key.Matches(msg, m.keys.ClearInput):
		if m.input.Value() == "" && m.searchQuery != "" {
			m.clearSearch()
			return m, nil
		}
		m.input.SetValue("")
		m.ctrl.Composer.ClearPending()
		return m, nil

	case key.Matches(msg, m.keys.Record):
		return m.toggleRecording()

	case key.Matches(msg, m.keys.CancelRec):
		if m.ctrl.RecorderState() != voice.Recording {
			return m, nil
		}
		if err := m.ctrl.CancelRecording(); err != nil {
			m.log.Debug("cancel recording", zap.Error(err))
		}
		m.status = "Recording discarded"
		return m, nil

	case key.Matches(msg, m.keys.Play):
		reply, ok := lastAudioReply(m.ctrl.Conversation.Messages())
		if !ok || !m.ctrl.Speak(reply) {
			m.status = "No voice reply to play"
			return m, nil
		}
		m.status = "Playing voice reply"
		return m, nil

	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.search.SetValue(m.searchQuery)
		m.search.CursorEnd()
		m.input.Blur()
		return m, m.search.Focus()

	case key.Matches(msg, m.keys.NextMatch):
		m.jumpToMatch(1)
		return m, nil

	case key.Matches(msg, m.keys.PrevMatch):
		m.jumpToMatch(-1)
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd()

	case key.Matches(msg, m.keys.Copy):
		return m, m.copyCmd()

	case key.Matches(msg, m.keys.Dismiss):
		m.ctrl.Notices.Dismiss()
		return m, nil

	case key.Matches(msg, m.keys.Logout):
		m.confirmLogout = true
		m.status = "Log out from this session? (y/n)"
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.ctrl.Composer.SetPending(m.input.Value())
	return m, cmd
}

func (m Model) updateSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.clearSearch()
		return m, m.input.Focus()
	case "enter":
		m.searchMode = false
		m.search.Blur()
		m.searchQuery = strings.TrimSpace(m.search.Value())
		m.setViewportFromRendered(false)
		if len(m.matchLines) > 0 {
			m.jumpToMatch(1)
		}
		return m, m.input.Focus()
	case "ctrl+c":
		m.ctrl.Close()
		return m, tea.Quit
	}

	before := strings.TrimSpace(m.search.Value())
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if after := strings.TrimSpace(m.search.Value()); after != before {
		m.searchQuery = after
		m.setViewportFromRendered(false)
	}
	return m, cmd
}

func (m Model) toggleRecording() (tea.Model, tea.Cmd) {
	if !m.ctrl.VoiceEnabled() {
		m.status = "Voice messages are not available here"
		return m, nil
	}

	switch m.ctrl.RecorderState() {
	case voice.Idle:
		if m.ctrl.Composer.InFlight() {
			m.status = "Still waiting for the previous reply"
			return m, nil
		}
		if err := m.ctrl.StartRecording(); err != nil {
			m.log.Warn("start recording", zap.Error(err))
			return m, m.noticeCmd()
		}
		m.status = ""
		return m, recordTick(m.ctrl)

	case voice.Recording:
		send, err := m.ctrl.BeginVoice()
		if err != nil {
			if errors.Is(err, chat.ErrInFlight) {
				m.status = "Still waiting for the previous reply"
			}
			return m, tea.Batch(m.refresh(), m.noticeCmd())
		}
		ctrl := m.ctrl
		return m, tea.Batch(
			func() tea.Msg { return sendDoneMsg{ctrl: ctrl, voice: true, err: ctrl.RunVoice(send)} },
			m.spinner.Tick,
			m.refresh(),
		)
	}
	return m, nil
}

func recordTick(ctrl *chat.Controller) tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(time.Time) tea.Msg { return recordTickMsg{ctrl: ctrl} })
}

// noticeCmd schedules expiry for a notice that has not been scheduled yet.
func (m *Model) noticeCmd() tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	n, ok := m.ctrl.Notices.Current()
	if !ok || n.Seq == m.noticeSeq {
		return nil
	}
	m.noticeSeq = n.Seq
	ctrl := m.ctrl
	wait := chat.NoticeTTL - time.Since(n.Posted)
	if wait < 0 {
		wait = 0
	}
	return tea.Tick(wait, func(time.Time) tea.Msg { return noticeExpireMsg{ctrl: ctrl, seq: n.Seq} })
}

func (m Model) logoutCmd() tea.Cmd {
	store := m.deps.Store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return logoutDoneMsg{err: store.Logout(ctx)}
	}
}

func (m Model) exportCmd() tea.Cmd {
	if m.deps.Exporter == nil || m.ctrl == nil {
		return nil
	}
	exp := m.deps.Exporter
	state := m.deps.Store.Current()
	msgs := m.ctrl.Conversation.Messages()
	return func() tea.Msg {
		path, err := exp.Export(state, msgs, time.Now())
		return exportMsg{path: path, err: err}
	}
}

func (m Model) copyCmd() tea.Cmd {
	reply, ok := m.ctrl.Conversation.LastAssistant()
	if !ok {
		return func() tea.Msg { return copyMsg{err: errors.New("no reply yet")} }
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return copyMsg{err: clipboard.Copy(ctx, reply.Content)}
	}
}

func (m Model) busy() bool {
	return m.ctrl != nil && m.ctrl.Composer.InFlight()
}

func (m *Model) refresh() tea.Cmd {
	if m.ctrl == nil {
		return nil
	}
	m.renderNonce++
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	md := conversationMarkdown(m.ctrl.Conversation.Messages(), m.loc)
	return renderCmd(md, m.deps.Config.GlamourStyle, wrap, m.renderNonce)
}

func (m *Model) setViewportFromRendered(gotoBottom bool) {
	content := m.rendered
	if m.searchQuery != "" {
		res := highlight.Apply(m.rendered, m.searchQuery, func(s string) string {
			return searchMatchStyle.Render(s)
		})
		content = res.Text
		m.matchCount = res.Count
		m.matchLines = res.LineIndex
	} else {
		m.clearMatches()
	}
	m.viewport.SetContent(content)
	if gotoBottom {
		m.viewport.GotoBottom()
	}
}

func (m *Model) clearSearch() {
	m.searchMode = false
	m.searchQuery = ""
	m.search.SetValue("")
	m.search.Blur()
	m.setViewportFromRendered(false)
}

func (m *Model) clearMatches() {
	m.matchLines = nil
	m.matchCount = 0
	m.matchLine = -1
}

func (m *Model) jumpToMatch(dir int) {
	if len(m.matchLines) == 0 {
		m.status = "No search matches in conversation"
		return
	}
	m.matchLine = highlight.Step(m.matchLines, m.matchLine, dir)
	m.viewport.SetYOffset(m.clampViewportOffset(m.matchLine))
	pos := 0
	for i, l := range m.matchLines {
		if l == m.matchLine {
			pos = i + 1
		}
	}
	m.status = fmt.Sprintf("Match line %d/%d", pos, len(m.matchLines))
}

func (m *Model) clampViewportOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	// header, notice, input box (3), status, help, panel border (2)
	bodyHeight := m.height - 9
	if bodyHeight < 4 {
		bodyHeight = 4
	}
	m.viewport.Width = m.width - 4
	m.viewport.Height = bodyHeight
	m.input.Width = m.width - 8
	m.search.Width = m.width - 8
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}
	if m.screen == ScreenLogin || m.ctrl == nil {
		return m.login.View()
	}

	body := panelStyle.Width(m.width - 2).Render(m.viewport.View())

	notice := ""
	if n, ok := m.ctrl.Notices.Current(); ok {
		notice = noticeStyle.Render("! " + n.Text + "  (ctrl+g to dismiss)")
	}

	var inputLine string
	switch {
	case m.searchMode:
		inputLine = m.search.View()
	case m.ctrl.RecorderState() == voice.Recording:
		inputLine = recordingStyle.Render(fmt.Sprintf("● REC %s", formatElapsed(m.ctrl.RecorderElapsed()))) +
			mutedStyle.Render("  ctrl+r send · ctrl+x cancel")
	case m.busy():
		inputLine = m.spinner.View() + " waiting for reply..."
	default:
		inputLine = m.input.View()
	}

	m.keys.voiceActive = m.ctrl.VoiceEnabled()
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerLine(),
		body,
		notice,
		fieldStyle(true).Width(m.width-2).Render(inputLine),
		m.statusLine(),
		m.help.View(m.keys),
	)
}

func (m Model) headerLine() string {
	state := m.deps.Store.Current()
	who := state.UserCode
	if who == "" {
		who = "guest"
	}
	badge := roleBadgeStyle(state.Role).Render(state.Role.Label())
	count := mutedStyle.Render(fmt.Sprintf("%d messages", m.ctrl.Conversation.Len()))
	return titleStyle.Render("Depot Chat") + " " + badge + " " + who + "  " + count
}

func (m Model) statusLine() string {
	status := ""
	if m.searchQuery != "" {
		status = fmt.Sprintf("[search %q: %d matches]", m.searchQuery, m.matchCount)
	}
	if s := strings.TrimSpace(m.status); s != "" {
		status += "  " + shorten(s, 80)
	}
	if m.err != nil {
		status += "  err=" + shorten(m.err.Error(), 60)
	}
	return statusStyle.Render(strings.TrimSpace(status))
}

func lastAudioReply(msgs []chat.Message) (chat.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == chat.SenderAssistant && msgs[i].IsAudioResponse {
			return msgs[i], true
		}
	}
	return chat.Message{}, false
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func shorten(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	searchMatchStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("16")).
				Background(lipgloss.Color("220"))
	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("160")).
			Padding(0, 1)
	recordingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	panelStyle     = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func roleBadgeStyle(r session.Role) lipgloss.Style {
	color := lipgloss.Color("214")
	switch r {
	case session.RoleDepot:
		color = lipgloss.Color("35")
	case session.RoleUser:
		color = lipgloss.Color("33")
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("16")).Background(color).Padding(0, 1)
}
