package ui

const (
	PathRoot  = "/"
	PathLogin = "/login"
	PathChat  = "/chat"
)

type Screen int

const (
	ScreenLogin Screen = iota
	ScreenChat
)

func (s Screen) String() string {
	if s == ScreenChat {
		return "chat"
	}
	return "login"
}

// Resolve follows the redirect rules for a requested path: the chat screen
// needs a session, the login screen is skipped when one exists, the root
// picks whichever applies and anything else goes to the root.
func Resolve(requested string, loggedIn bool) Screen {
	switch requested {
	case PathChat:
		if !loggedIn {
			return Resolve(PathLogin, loggedIn)
		}
		return ScreenChat
	case PathLogin:
		if loggedIn {
			return Resolve(PathChat, loggedIn)
		}
		return ScreenLogin
	case PathRoot:
		if loggedIn {
			return ScreenChat
		}
		return ScreenLogin
	default:
		return Resolve(PathRoot, loggedIn)
	}
}
