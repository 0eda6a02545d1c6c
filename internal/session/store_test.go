package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStateLoggedIn(t *testing.T) {
	cases := []struct {
		state State
		want  bool
	}{
		{State{}, false},
		{State{Role: RoleUser}, true},
		{State{Role: RoleUser, UserCode: "x"}, true},
		{State{Role: RoleDepot}, false},
		{State{Role: RoleDepot, UserCode: "D-1"}, true},
		{State{Role: RoleDistillery, UserCode: "S-9"}, true},
		{State{UserCode: "orphan"}, false},
	}
	for _, tc := range cases {
		if got := tc.state.LoggedIn(); got != tc.want {
			t.Fatalf("state=%+v got=%v want=%v", tc.state, got, tc.want)
		}
	}
}

func TestLoginPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.sqlite")
	ctx := context.Background()

	s := openTestStore(t, path)
	if err := s.Login(ctx, "D-42", RoleDepot); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !s.IsLoggedIn() {
		t.Fatalf("expected logged in after login")
	}
	_ = s.Close()

	reopened := openTestStore(t, path)
	got := reopened.Current()
	if got.Role != RoleDepot || got.UserCode != "D-42" {
		t.Fatalf("unexpected state after reopen: %+v", got)
	}
	if got.HistoryFetched {
		t.Fatalf("history flag must not survive a restart")
	}
}

func TestLoginThenLogoutRestoresUnauthenticatedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.sqlite")
	ctx := context.Background()
	s := openTestStore(t, path)

	before := s.Current()
	if err := s.Login(ctx, "S-7", RoleDistillery); err != nil {
		t.Fatalf("login: %v", err)
	}
	if ok, err := s.MarkHistoryFetched(ctx); err != nil || !ok {
		t.Fatalf("mark history: ok=%v err=%v", ok, err)
	}
	if _, found, _ := s.LastHistoryFetch(ctx, "S-7"); !found {
		t.Fatalf("expected durable history mark")
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := s.Current(); got != before {
		t.Fatalf("expected %+v after logout, got %+v", before, got)
	}
	if _, found, err := s.LastHistoryFetch(ctx, "S-7"); err != nil || found {
		t.Fatalf("expected mark cleared, found=%v err=%v", found, err)
	}

	reopened := openTestStore(t, path)
	if reopened.IsLoggedIn() {
		t.Fatalf("logout must clear persisted identity")
	}
}

func TestMarkHistoryFetchedIsTestAndSet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "session.sqlite"))
	if err := s.Login(ctx, "D-1", RoleDepot); err != nil {
		t.Fatalf("login: %v", err)
	}

	first, err := s.MarkHistoryFetched(ctx)
	if err != nil || !first {
		t.Fatalf("first mark should win: ok=%v err=%v", first, err)
	}
	second, err := s.MarkHistoryFetched(ctx)
	if err != nil || second {
		t.Fatalf("second mark should be a no-op: ok=%v err=%v", second, err)
	}
}

func TestLoginResetsHistoryFlagForNewIdentity(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "session.sqlite"))
	if err := s.Login(ctx, "D-1", RoleDepot); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := s.MarkHistoryFetched(ctx); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := s.Login(ctx, "D-2", RoleDepot); err != nil {
		t.Fatalf("relogin: %v", err)
	}
	if s.HistoryFetched() {
		t.Fatalf("history flag leaked across logins")
	}
}

func TestValidateLogin(t *testing.T) {
	cases := []struct {
		name     string
		form     LoginForm
		role     Role
		userCode string
		errs     FormErrors
	}{
		{"missing role", LoginForm{UserCode: "x"}, RoleNone, "x", FormErrors{Role: "Please select a role"}},
		{"depot needs code", LoginForm{Role: "depot", UserCode: "  "}, RoleDepot, "", FormErrors{UserCode: "Please enter user id"}},
		{"depot trims code", LoginForm{Role: "depot", UserCode: " D-9 "}, RoleDepot, "D-9", FormErrors{}},
		{"user drops code", LoginForm{Role: "user", UserCode: "ignored"}, RoleUser, "", FormErrors{}},
		{"unknown role", LoginForm{Role: "admin", UserCode: "x"}, RoleNone, "x", FormErrors{Role: "Please select a role"}},
	}
	for _, tc := range cases {
		role, code, errs := ValidateLogin(tc.form)
		if role != tc.role || code != tc.userCode || errs != tc.errs {
			t.Fatalf("%s: got role=%q code=%q errs=%+v", tc.name, role, code, errs)
		}
	}
}

func TestParseRoleRejectsUnknown(t *testing.T) {
	if _, err := ParseRole("captain"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	if r, err := ParseRole(" Depot "); err != nil || r != RoleDepot {
		t.Fatalf("expected depot, got %q %v", r, err)
	}
}
