package session

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRole = errors.New("invalid role")

type Role string

const (
	RoleNone       Role = ""
	RoleDepot      Role = "depot"
	RoleDistillery Role = "distillery"
	RoleUser       Role = "user"
)

// Roles lists the selectable roles in login order.
func Roles() []Role {
	return []Role{RoleDepot, RoleDistillery, RoleUser}
}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleDepot:
		return RoleDepot, nil
	case RoleDistillery:
		return RoleDistillery, nil
	case RoleUser:
		return RoleUser, nil
	case RoleNone:
		return RoleNone, nil
	default:
		return RoleNone, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) Label() string {
	switch r {
	case RoleDepot:
		return "Depot"
	case RoleDistillery:
		return "Distillery"
	case RoleUser:
		return "User"
	default:
		return "n/a"
	}
}

// HasHistory reports whether the primary service keeps addressable history
// for the role. Plain users talk to the secondary service, which has none.
func (r Role) HasHistory() bool {
	return r == RoleDepot || r == RoleDistillery
}

// CanRecord reports whether voice messages are available for the role.
func (r Role) CanRecord() bool {
	return r.HasHistory()
}

type LoginForm struct {
	Role     string
	UserCode string
}

// FormErrors holds inline validation messages keyed by field.
type FormErrors struct {
	Role     string
	UserCode string
}

func (e FormErrors) Empty() bool {
	return e.Role == "" && e.UserCode == ""
}

// ValidateLogin checks a login form and returns the role and user code that
// should be passed to Store.Login. The user code is always empty for RoleUser.
func ValidateLogin(f LoginForm) (Role, string, FormErrors) {
	var errs FormErrors
	role, err := ParseRole(f.Role)
	if err != nil || role == RoleNone {
		errs.Role = "Please select a role"
	}
	userCode := strings.TrimSpace(f.UserCode)
	if role != RoleUser && userCode == "" {
		errs.UserCode = "Please enter user id"
	}
	if role == RoleUser {
		userCode = ""
	}
	return role, userCode, errs
}
