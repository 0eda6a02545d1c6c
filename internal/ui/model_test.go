package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"depot-chat/internal/api"
	"depot-chat/internal/chat"
	"depot-chat/internal/session"
)

type fakeStore struct {
	mu        sync.Mutex
	state     session.State
	fetched   bool
	logoutErr error
}

func (s *fakeStore) Current() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeStore) IsLoggedIn() bool { return s.Current().LoggedIn() }

func (s *fakeStore) Login(_ context.Context, userCode string, role session.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = session.State{Role: role, UserCode: userCode}
	s.fetched = false
	return nil
}

func (s *fakeStore) Logout(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logoutErr != nil {
		return s.logoutErr
	}
	s.state = session.State{}
	return nil
}

func (s *fakeStore) MarkHistoryFetched(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetched {
		return false, nil
	}
	s.fetched = true
	return true, nil
}

type fakeBackend struct {
	rows []api.HistoryRow
}

func (b *fakeBackend) History(context.Context, string) ([]api.HistoryRow, error) {
	return b.rows, nil
}

func (b *fakeBackend) Analyze(_ context.Context, req api.AnalyzeRequest) (string, error) {
	return "ok: " + req.Query, nil
}

func (b *fakeBackend) UserQuery(_ context.Context, q string) (string, error) {
	return "user: " + q, nil
}

func (b *fakeBackend) Voice(context.Context, api.VoiceUpload) (api.VoiceReply, error) {
	return api.VoiceReply{Transcript: "t", Reply: "r"}, nil
}

func newTestModel(t *testing.T, state session.State) (Model, *fakeStore) {
	t.Helper()
	store := &fakeStore{state: state}
	m := NewModel(Deps{Store: store, Backend: &fakeBackend{}})
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = next.(Model)
	next, _ = m.Update(navigateMsg{path: PathRoot})
	return next.(Model), store
}

func keyPress(t tea.KeyType) tea.KeyMsg { return tea.KeyMsg{Type: t} }

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func TestResolveRedirects(t *testing.T) {
	tests := []struct {
		path     string
		loggedIn bool
		want     Screen
	}{
		{PathRoot, false, ScreenLogin},
		{PathRoot, true, ScreenChat},
		{PathLogin, false, ScreenLogin},
		{PathLogin, true, ScreenChat},
		{PathChat, false, ScreenLogin},
		{PathChat, true, ScreenChat},
		{"/nowhere", false, ScreenLogin},
		{"/nowhere", true, ScreenChat},
	}
	for _, tc := range tests {
		if got := Resolve(tc.path, tc.loggedIn); got != tc.want {
			t.Fatalf("Resolve(%q, %v) = %v, want %v", tc.path, tc.loggedIn, got, tc.want)
		}
	}
}

func TestLoginWithoutRoleShowsError(t *testing.T) {
	l := newLoginModel()
	l, cmd := l.Update(keyPress(tea.KeyEnter))
	if cmd != nil {
		t.Fatalf("expected no submit without a role")
	}
	if l.errs.Role != "Please select a role" {
		t.Fatalf("unexpected role error: %q", l.errs.Role)
	}
}

func TestLoginDepotNeedsUserCode(t *testing.T) {
	l := newLoginModel()
	l.roles.Select(1)
	if l.selectedRole() != session.RoleDepot {
		t.Fatalf("expected depot at index 1, got %q", l.selectedRole())
	}
	l, _ = l.Update(keyPress(tea.KeyEnter))
	if !l.focusCode {
		t.Fatalf("expected focus to move to the user id field")
	}
	if l.errs.UserCode != "Please enter user id" {
		t.Fatalf("unexpected user id error: %q", l.errs.UserCode)
	}
	if l.busy {
		t.Fatalf("login should not be submitted")
	}
}

func TestLoginUserRoleSubmitsWithoutCode(t *testing.T) {
	l := newLoginModel()
	l.roles.Select(3)
	l, cmd := l.Update(keyPress(tea.KeyEnter))
	if cmd == nil || !l.busy {
		t.Fatalf("expected a submit for the user role")
	}
	msg, ok := cmd().(loginSubmitMsg)
	if !ok {
		t.Fatalf("expected loginSubmitMsg")
	}
	if msg.role != session.RoleUser || msg.userCode != "" {
		t.Fatalf("unexpected submit: %+v", msg)
	}
}

func TestLoginFlowMountsChat(t *testing.T) {
	m, store := newTestModel(t, session.State{})
	if m.screen != ScreenLogin || m.ctrl != nil {
		t.Fatalf("expected login screen without a session")
	}

	next, cmd := m.Update(loginSubmitMsg{role: session.RoleDepot, userCode: "D-1"})
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("expected a login command")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)

	if m.screen != ScreenChat || m.ctrl == nil {
		t.Fatalf("expected chat screen after login, got %v", m.screen)
	}
	if got := store.Current(); got.Role != session.RoleDepot || got.UserCode != "D-1" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if m.ctrl.VoiceEnabled() != m.keys.voiceActive {
		t.Fatalf("help should follow voice availability")
	}
	if !strings.Contains(m.headerLine(), "D-1") {
		t.Fatalf("header should show the user id: %q", m.headerLine())
	}
}

func TestSendAppendsUserMessageAndIgnoresStaleResults(t *testing.T) {
	m, _ := newTestModel(t, session.State{Role: session.RoleUser})
	if m.screen != ScreenChat {
		t.Fatalf("expected chat screen with a session")
	}

	next, _ := m.Update(runes("hi"))
	m = next.(Model)
	if m.ctrl.Composer.Pending() != "hi" {
		t.Fatalf("pending input not synced: %q", m.ctrl.Composer.Pending())
	}
	next, cmd := m.Update(keyPress(tea.KeyEnter))
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("expected a send command")
	}
	if m.input.Value() != "" {
		t.Fatalf("input should be cleared after send")
	}
	msgs := m.ctrl.Conversation.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hi" || msgs[0].Sender != chat.SenderUser {
		t.Fatalf("unexpected conversation: %+v", msgs)
	}

	other := chat.NewController(context.Background(), chat.ControllerOptions{})
	defer other.Close()
	before := m.renderNonce
	next, _ = m.Update(sendDoneMsg{ctrl: other})
	m = next.(Model)
	if m.renderNonce != before {
		t.Fatalf("result from another controller should be ignored")
	}
}

func TestLogoutAsksForConfirmation(t *testing.T) {
	m, store := newTestModel(t, session.State{Role: session.RoleDistillery, UserCode: "X"})
	ctrl := m.ctrl

	next, _ := m.Update(keyPress(tea.KeyCtrlL))
	m = next.(Model)
	if !m.confirmLogout || !strings.Contains(m.status, "Log out from this session?") {
		t.Fatalf("expected a confirmation prompt, status=%q", m.status)
	}
	next, cmd := m.Update(runes("n"))
	m = next.(Model)
	if cmd != nil || m.confirmLogout || ctrl.Closed() {
		t.Fatalf("declining should keep the session")
	}

	next, _ = m.Update(keyPress(tea.KeyCtrlL))
	m = next.(Model)
	next, cmd = m.Update(runes("y"))
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("confirming should log out")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if m.screen != ScreenLogin || m.ctrl != nil || !ctrl.Closed() {
		t.Fatalf("expected login screen and a closed chat scope after logout")
	}
	if store.IsLoggedIn() {
		t.Fatalf("session should be cleared")
	}
}

func TestRecordKeyUnavailableWithoutRecorder(t *testing.T) {
	m, _ := newTestModel(t, session.State{Role: session.RoleDepot, UserCode: "D"})
	next, cmd := m.Update(keyPress(tea.KeyCtrlR))
	m = next.(Model)
	if cmd != nil {
		t.Fatalf("record should do nothing without a recorder")
	}
	if !strings.Contains(m.status, "not available") {
		t.Fatalf("unexpected status: %q", m.status)
	}
}

func TestNoticeExpiryOnlyClearsMatchingSeq(t *testing.T) {
	m, _ := newTestModel(t, session.State{Role: session.RoleUser})
	first := m.ctrl.Notices.Post("one")
	second := m.ctrl.Notices.Post("two")

	next, _ := m.Update(noticeExpireMsg{ctrl: m.ctrl, seq: first.Seq})
	m = next.(Model)
	if n, ok := m.ctrl.Notices.Current(); !ok || n.Text != "two" {
		t.Fatalf("newer notice should survive an old expiry")
	}
	next, _ = m.Update(noticeExpireMsg{ctrl: m.ctrl, seq: second.Seq})
	m = next.(Model)
	if _, ok := m.ctrl.Notices.Current(); ok {
		t.Fatalf("notice should expire")
	}
}

func TestConversationMarkdown(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	msgs := []chat.Message{
		{ID: "1", Sender: chat.SenderUser, Content: "stock?", Timestamp: ts.Format(time.RFC3339)},
		{ID: "2", Sender: chat.SenderAssistant, Content: "plenty", IsAudioResponse: true},
		{ID: "3", Sender: chat.SenderUser, AudioRef: "file:///tmp/v.wav"},
		{ID: "4", Sender: chat.SenderSystem, Content: "No previous messages"},
	}
	md := conversationMarkdown(msgs, time.UTC)
	for _, want := range []string{
		"### You · Mar 5 14:07",
		"stock?",
		"### Assistant 🔊",
		"### You 🎙",
		"_voice note · file:///tmp/v.wav_",
		"> No previous messages",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
	if got := conversationMarkdown(nil, time.UTC); !strings.Contains(got, "Say hello") {
		t.Fatalf("unexpected empty markdown: %q", got)
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(75 * time.Second); got != "1:15" {
		t.Fatalf("formatElapsed = %q", got)
	}
	if got := formatElapsed(0); got != "0:00" {
		t.Fatalf("formatElapsed zero = %q", got)
	}
}

func TestFailedLogoutKeepsChatUsable(t *testing.T) {
	m, store := newTestModel(t, session.State{Role: session.RoleUser})
	store.logoutErr = errors.New("database is locked")
	ctrl := m.ctrl

	next, _ := m.Update(keyPress(tea.KeyCtrlL))
	m = next.(Model)
	next, cmd := m.Update(runes("y"))
	m = next.(Model)
	if cmd == nil {
		t.Fatalf("expected a logout command")
	}
	next, _ = m.Update(cmd())
	m = next.(Model)

	if m.screen != ScreenChat || m.ctrl != ctrl || ctrl.Closed() {
		t.Fatalf("failed logout should keep the chat screen open")
	}
	if !strings.Contains(m.status, "database is locked") {
		t.Fatalf("status should explain the failure: %q", m.status)
	}

	next, _ = m.Update(runes("hello"))
	m = next.(Model)
	next, cmd = m.Update(keyPress(tea.KeyEnter))
	m = next.(Model)
	if cmd == nil || m.ctrl.Conversation.Len() != 1 {
		t.Fatalf("sending should still work after a failed logout")
	}
}
