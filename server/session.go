package server

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"miniftpd/config"
)

// loginState is the session's authentication sub-state-machine, entered in
// this order for a fresh connection: WelcomePending -> Unauthenticated ->
// (WaitingPassword ->) Authenticated.
type loginState int

const (
	stateWelcomePending loginState = iota
	stateUnauthenticated
	stateWaitingPassword
	stateAuthenticated
)

// session is the per-control-connection state machine. At most one worker
// holds it at a time, enforced by the busy flag the server checks before
// submitting it to the pool again.
type session struct {
	id     int // control descriptor, also the TimerList key
	ctrl   *conn
	server *Server
	remote string

	busy atomic.Bool

	mu           sync.Mutex
	state        loginState
	username     string
	isAdmin      bool
	cwd          string // FTP-visible absolute path, always canonical
	renameFrom   string
	transferType byte // 'A' or 'I'
	restartOff   int64
	umask        os.FileMode

	pasvListenFD int    // -1 when no passive listener is pending
	activeHost   string // PORT target host, "" if none
	activePort   int    // PORT target port, 0 if none
	dataFD       int    // established data connection, -1 if none
	closed       bool

	lastReplyCode int // set by reply(), read back by dispatch() for metrics
}

func newSession(id int, c *conn, remote string, srv *Server) *session {
	return &session{
		id:           id,
		ctrl:         c,
		server:       srv,
		remote:       remote,
		state:        stateWelcomePending,
		cwd:          "/",
		transferType: 'I',
		umask:        0o022,
		pasvListenFD: -1,
		dataFD:       -1,
	}
}

// reply writes one reply line to the control connection.
func (s *session) reply(code int, format string, args ...any) {
	s.lastReplyCode = code
	msg := fmt.Sprintf(format, args...)
	if err := s.ctrl.send([]byte(encodeReply(code, msg))); err != nil {
		s.server.logf("session_write_error", s.id, "err", err)
	}
}

// handleReadable is invoked by a worker once per dispatch: it drains and
// processes every complete command line currently buffered, including the
// implicit welcome banner on first contact.
func (s *session) handleReadable() {
	if s.state == stateWelcomePending {
		s.reply(codeServiceReady, "miniftpd ready")
		s.state = stateUnauthenticated
	}

	for {
		line, ok, closed := s.ctrl.readMsg()
		if closed {
			s.teardown()
			return
		}
		if !ok {
			return
		}
		s.dispatch(string(line))
		if s.closed {
			return
		}
	}
}

func (s *session) dispatch(line string) {
	cmd := decodeCommand(line)
	if cmd.verb == "" {
		s.reply(codeSyntaxError, "Invalid command")
		return
	}

	start := time.Now()
	defer func() {
		s.server.recordCommand(cmd.verb, s.lastReplyCode < 400, time.Since(start))
	}()

	switch cmd.verb {
	case "USER":
		s.handleUSER(cmd.arg)
		return
	case "PASS":
		s.handlePASS(cmd.arg)
		return
	case "QUIT":
		s.reply(codeClosingControl, "Goodbye.")
		s.teardown()
		return
	case "NOOP":
		s.reply(codeCommandOK, "NOOP ok.")
		return
	}

	if s.state == stateWaitingPassword {
		s.reply(codeBadSequence, "Login with USER and PASS.")
		return
	}
	if s.state == stateUnauthenticated {
		switch cmd.verb {
		case "SYST", "ACCT":
			commandHandlers[cmd.verb](s, cmd.arg)
		default:
			if _, known := commandHandlers[cmd.verb]; !known {
				s.reply(codeSyntaxErrorArgs, "Unknown command %q.", cmd.verb)
			}
			// Any other known command is dropped without a reply until login.
		}
		return
	}

	handler, ok := commandHandlers[cmd.verb]
	if !ok {
		s.reply(codeSyntaxErrorArgs, "Unknown command %q.", cmd.verb)
		return
	}
	handler(s, cmd.arg)
}

var commandHandlers = map[string]func(*session, string){
	"CWD":  (*session).handleCWD,
	"XCWD": (*session).handleCWD,
	"CDUP": func(s *session, _ string) { s.handleCWD(path.Dir(s.cwd)) },
	"XCUP": func(s *session, _ string) { s.handleCWD(path.Dir(s.cwd)) },
	"PWD":  func(s *session, _ string) { s.handlePWD() },
	"XPWD": func(s *session, _ string) { s.handlePWD() },
	"TYPE": (*session).handleTYPE,
	"PORT": (*session).handlePORT,
	"PASV": func(s *session, _ string) { s.handlePASV() },
	"LIST": (*session).handleLIST,
	"NLST": (*session).handleNLST,
	"SIZE": (*session).handleSIZE,
	"HELP": (*session).handleHELP,
	"STOR": (*session).handleSTOR,
	"RETR": (*session).handleRETR,
	"APPE": (*session).handleAPPE,
	"STOU": func(s *session, _ string) { s.handleSTOU() },
	"MKD":  (*session).handleMKD,
	"XMKD": (*session).handleMKD,
	"RMD":  (*session).handleRMD,
	"XRMD": (*session).handleRMD,
	"DELE": (*session).handleDELE,
	"RNFR": (*session).handleRNFR,
	"RNTO": (*session).handleRNTO,
	"SITE": (*session).handleSITE,
	"REST": (*session).handleREST,
	"ABOR": func(s *session, _ string) { s.reply(codeClosingData, "Abort successful.") },
	"SYST": func(s *session, _ string) { s.handleSYST() },
	"ACCT": func(s *session, _ string) { s.reply(codeCommandOK, "ACCT ok.") },
}

func (s *session) handleUSER(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user = strings.TrimSpace(user)
	s.username = user
	s.isAdmin = false

	cfg := s.server.cfg
	if cfg.Admin.Name != "" && user == cfg.Admin.Name {
		s.isAdmin = true
		if cfg.Admin.Password == "" {
			s.state = stateAuthenticated
			s.reply(codeLoginSuccess, "Login successful.")
			s.server.recordAuth(true, user)
			return
		}
		s.state = stateWaitingPassword
		s.reply(codeNeedPassword, "Please specify the password.")
		return
	}

	for _, u := range cfg.Users {
		if u.Name == user {
			if u.Password == "" {
				s.state = stateAuthenticated
				s.reply(codeLoginSuccess, "Login successful.")
				s.server.recordAuth(true, user)
				return
			}
			s.state = stateWaitingPassword
			s.reply(codeNeedPassword, "Please specify the password.")
			return
		}
	}

	s.state = stateWaitingPassword
	s.reply(codeNeedPassword, "Please specify the password.")
}

func (s *session) handlePASS(pass string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateWaitingPassword {
		s.reply(codeBadSequence, "Login with USER first.")
		return
	}

	cfg := s.server.cfg
	var want string
	var known bool
	if s.isAdmin {
		want, known = cfg.Admin.Password, true
	} else {
		for _, u := range cfg.Users {
			if u.Name == s.username {
				want, known = u.Password, true
				break
			}
		}
	}

	if known && pass == want {
		s.state = stateAuthenticated
		s.reply(codeLoginSuccess, "Login successful.")
		s.server.recordAuth(true, s.username)
		return
	}
	s.reply(codeNotLoggedIn, "Login incorrect.")
	s.server.recordAuth(false, s.username)
}

func (s *session) handleSYST() {
	s.reply(codeSystemType, "UNIX Type: L8")
}

func (s *session) handleTYPE(arg string) {
	arg = strings.ToUpper(strings.TrimSpace(arg))
	switch arg {
	case "A":
		s.transferType = 'A'
		s.reply(codeCommandOK, "Switching to ASCII mode.")
	case "I":
		s.transferType = 'I'
		s.reply(codeCommandOK, "Switching to Binary mode.")
	default:
		s.reply(codeNotImplParam, "Unsupported TYPE %q.", arg)
	}
}

func (s *session) handleREST(arg string) {
	n, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || n < 0 {
		s.reply(codeBadSequence, "Invalid REST offset.")
		return
	}
	s.restartOff = n
	s.reply(codePendingFurther, "Restarting at %d.", n)
}

func (s *session) handleSITE(arg string) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		s.reply(codeSyntaxErrorArgs, "SITE requires a sub-command.")
		return
	}
	switch strings.ToUpper(fields[0]) {
	case "UMASK":
		if len(fields) != 2 {
			s.reply(codeBadSequence, "Usage: SITE UMASK <mask>")
			return
		}
		v, err := strconv.ParseUint(fields[1], 8, 32)
		if err != nil {
			s.reply(codeBadSequence, "Invalid umask.")
			return
		}
		s.umask = os.FileMode(v)
		s.reply(codeCommandOK, "UMASK set to %03o.", v)
	case "CHMOD":
		if len(fields) != 3 || !s.isAdmin {
			s.reply(codeBadSequence, "Usage: SITE CHMOD <mode> <path>")
			return
		}
		v, err := strconv.ParseUint(fields[1], 8, 32)
		if err != nil {
			s.reply(codeBadSequence, "Invalid mode.")
			return
		}
		_, fsPath, err := s.resolvePath(fields[2])
		if err != nil {
			s.reply(codeActionNotTaken, "%v", err)
			return
		}
		if err := os.Chmod(fsPath, os.FileMode(v)); err != nil {
			s.reply(codeActionNotTaken, "%v", err)
			return
		}
		s.reply(codeCommandOK, "CHMOD ok.")
	default:
		s.reply(codeNotImplCmd, "Unknown SITE sub-command.")
	}
}

// resolvePath maps an FTP-visible path argument (relative to cwd, or
// absolute) to both its canonical FTP-visible form and the corresponding
// filesystem path under the server root. A bare ".." component is rejected
// explicitly; in addition the FTP-visible path is always cleaned to an
// absolute path, so traversal cannot escape the root even without that
// check (see DESIGN.md, Open Question 2).
func (s *session) resolvePath(arg string) (ftpAbs, fsPath string, err error) {
	for _, part := range strings.Split(arg, "/") {
		if part == ".." {
			return "", "", fmt.Errorf("invalid path")
		}
	}
	if arg == "" {
		arg = "."
	}
	var joined string
	if path.IsAbs(arg) {
		joined = arg
	} else {
		joined = path.Join(s.cwd, arg)
	}
	ftpAbs = path.Clean("/" + joined)
	fsPath = path.Join(s.server.root, ftpAbs)
	return ftpAbs, fsPath, nil
}

// teardown closes the session's connections and removes it from the
// server's bookkeeping. Safe to call more than once.
func (s *session) teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.closeData()
	if s.pasvListenFD >= 0 {
		closeFD(s.pasvListenFD)
		s.pasvListenFD = -1
	}
	s.ctrl.shutdown()
	s.ctrl.close()
	s.server.removeSession(s)
}

func (s *session) closeData() {
	if s.dataFD >= 0 {
		closeFD(s.dataFD)
		s.dataFD = -1
	}
}
