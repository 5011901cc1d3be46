package copilotlog

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SessionIdentity ties usage events to the editor session and window whose
// log they came from, plus a host-session id minted once per tracker run.
type SessionIdentity struct {
	EditorSession string
	Window        string
	HostSession   string
}

// NewSessionIdentity derives the editor session and window from logPath and
// mints a fresh host-session id. Paths outside the known layout yield
// "unknown" components.
func NewSessionIdentity(logPath string) SessionIdentity {
	return SessionIdentityFor(logPath, uuid.NewString())
}

// SessionIdentityFor is NewSessionIdentity with a caller-supplied
// host-session id, for callers that mint one id per run and tag every
// file with it.
func SessionIdentityFor(logPath, hostSession string) SessionIdentity {
	session, window, ok := SessionFromPath(logPath)
	if !ok {
		session, window = "unknown", "unknown"
	}
	return SessionIdentity{
		EditorSession: session,
		Window:        window,
		HostSession:   hostSession,
	}
}

func (s SessionIdentity) String() string {
	return s.EditorSession + "-" + s.Window + "-" + s.HostSession
}

// SessionFromPath extracts the session and window directory names from a log
// path of the form .../logs/<session>/<window>/exthost/... .
func SessionFromPath(path string) (session, window string, ok bool) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for i := len(parts) - 1; i >= 2; i-- {
		if parts[i] == "exthost" {
			return parts[i-2], parts[i-1], true
		}
	}
	return "", "", false
}
