package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"depot-chat/internal/session"
)

type roleItem struct {
	role session.Role
}

func (i roleItem) Title() string {
	if i.role == session.RoleNone {
		return "Select a role"
	}
	return i.role.Label()
}

func (i roleItem) Description() string {
	switch i.role {
	case session.RoleDepot, session.RoleDistillery:
		return "history, text and voice messages"
	case session.RoleUser:
		return "text questions, no user id needed"
	default:
		return "choose one below"
	}
}

func (i roleItem) FilterValue() string { return string(i.role) }

type loginSubmitMsg struct {
	role     session.Role
	userCode string
}

type loginModel struct {
	roles     list.Model
	userCode  textinput.Model
	focusCode bool
	errs      session.FormErrors
	busy      bool
	err       string
	keys      loginKeyMap
	help      help.Model
}

func newLoginModel() loginModel {
	items := []list.Item{roleItem{role: session.RoleNone}}
	for _, r := range session.Roles() {
		items = append(items, roleItem{role: r})
	}
	l := list.New(items, list.NewDefaultDelegate(), 40, 12)
	l.Title = "Role"
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowPagination(false)
	l.DisableQuitKeybindings()

	ti := textinput.New()
	ti.Placeholder = "e.g. D-1024"
	ti.Prompt = "user id › "
	ti.CharLimit = 64

	return loginModel{roles: l, userCode: ti, keys: defaultLoginKeys(), help: help.New()}
}

func (l loginModel) selectedRole() session.Role {
	item, ok := l.roles.SelectedItem().(roleItem)
	if !ok {
		return session.RoleNone
	}
	return item.role
}

func (l loginModel) form() session.LoginForm {
	return session.LoginForm{Role: string(l.selectedRole()), UserCode: l.userCode.Value()}
}

func (l *loginModel) setSize(width, height int) {
	h := height - 10
	if h < 8 {
		h = 8
	}
	l.roles.SetSize(width-4, h)
	l.userCode.Width = width - 20
}

func (l *loginModel) reset() {
	l.roles.Select(0)
	l.userCode.SetValue("")
	l.userCode.Blur()
	l.focusCode = false
	l.errs = session.FormErrors{}
	l.busy = false
	l.err = ""
}

func (l loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok || l.busy {
		return l, nil
	}

	switch {
	case key.Matches(keyMsg, l.keys.Quit):
		return l, tea.Quit
	case key.Matches(keyMsg, l.keys.Submit):
		role, userCode, errs := session.ValidateLogin(l.form())
		l.errs = errs
		l.err = ""
		if !errs.Empty() {
			if errs.Role == "" && errs.UserCode != "" {
				l.focusCode = true
				return l, l.userCode.Focus()
			}
			return l, nil
		}
		l.busy = true
		return l, func() tea.Msg { return loginSubmitMsg{role: role, userCode: userCode} }
	case key.Matches(keyMsg, l.keys.Tab):
		if l.selectedRole() == session.RoleUser {
			return l, nil
		}
		l.focusCode = !l.focusCode
		if l.focusCode {
			return l, l.userCode.Focus()
		}
		l.userCode.Blur()
		return l, nil
	}

	var cmd tea.Cmd
	if l.focusCode {
		before := l.userCode.Value()
		l.userCode, cmd = l.userCode.Update(keyMsg)
		if l.userCode.Value() != before {
			l.errs.UserCode = ""
		}
		return l, cmd
	}

	prev := l.selectedRole()
	l.roles, cmd = l.roles.Update(keyMsg)
	if cur := l.selectedRole(); cur != prev {
		l.errs.Role = ""
		if cur == session.RoleUser {
			l.errs.UserCode = ""
		}
	}
	return l, cmd
}

func (l loginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Depot Chat · sign in"))
	b.WriteString("\n\n")
	b.WriteString(l.roles.View())
	b.WriteString("\n")
	if l.errs.Role != "" {
		b.WriteString(fieldErrorStyle.Render(l.errs.Role) + "\n")
	}
	b.WriteString("\n")
	if l.selectedRole() == session.RoleUser {
		b.WriteString(mutedStyle.Render("The user role signs in without an id.") + "\n")
	} else {
		b.WriteString(fieldStyle(l.focusCode).Render(l.userCode.View()) + "\n")
		if l.errs.UserCode != "" {
			b.WriteString(fieldErrorStyle.Render(l.errs.UserCode) + "\n")
		}
	}
	if l.err != "" {
		b.WriteString("\n" + fieldErrorStyle.Render(l.err) + "\n")
	}
	if l.busy {
		b.WriteString("\n" + mutedStyle.Render("Signing in...") + "\n")
	}
	b.WriteString("\n" + l.help.View(l.keys))
	return b.String()
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("231")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	fieldErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func fieldStyle(active bool) lipgloss.Style {
	color := lipgloss.Color("240")
	if active {
		color = lipgloss.Color("39")
	}
	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), true).
		BorderForeground(color).
		Padding(0, 1)
}
