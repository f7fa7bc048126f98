package server

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"miniftpd/config"
	"miniftpd/internal/timerlist"
)

// newTestServer builds a Server rooted at a fresh temp directory, without
// calling Run -- tests drive sessions directly, never through the reactor.
func newTestServer(t *testing.T, cfg config.Config) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	if cfg.Admin.Name == "" {
		cfg.Admin = config.User{Name: "admin", Password: "secret"}
	}
	srv, err := New(root, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.pool.Close() })
	return srv, root
}

// socketpair returns two nonblocking, connected UNIX-domain descriptors: fd
// is handed to a session as its control connection, peerFD is read/written
// by the test acting as the remote FTP client.
func socketpair(t *testing.T) (fd int, peerFD int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	// The peer end is driven by plain blocking reads/writes from the test
	// goroutine, so switch it back to blocking mode.
	if err := unix.SetNonblock(fds[1], false); err != nil {
		t.Fatalf("SetNonblock: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// peerWrite sends a raw command line (CRLF appended) on the peer fd.
func peerWrite(t *testing.T, peerFD int, line string) {
	t.Helper()
	if _, err := unix.Write(peerFD, []byte(line+"\r\n")); err != nil {
		t.Fatalf("peerWrite: %v", err)
	}
}

// peerReadLines reads from peerFD until it has collected n CRLF-terminated
// reply lines, returned in order with the CRLF stripped.
func peerReadLines(t *testing.T, peerFD int, n int) []string {
	t.Helper()
	var data []byte
	buf := make([]byte, 4096)
	var lines []string
	for len(lines) < n {
		cnt, err := unix.Read(peerFD, buf)
		if err != nil {
			t.Fatalf("peerRead: %v", err)
		}
		data = append(data, buf[:cnt]...)
		for {
			idx := indexCRLF(data)
			if idx < 0 {
				break
			}
			lines = append(lines, string(data[:idx]))
			data = data[idx+2:]
		}
	}
	return lines
}

// peerReadReplies is peerReadLines plus leading three-digit code extraction.
func peerReadReplies(t *testing.T, peerFD int, n int) []int {
	t.Helper()
	lines := peerReadLines(t, peerFD, n)
	codes := make([]int, len(lines))
	for i, line := range lines {
		if len(line) < 3 {
			t.Fatalf("reply line too short: %q", line)
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			t.Fatalf("reply line %q has no numeric code", line)
		}
		codes[i] = code
	}
	return codes
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

var pasvTuple = regexp.MustCompile(`\((\d+),(\d+),(\d+),(\d+),(\d+),(\d+)\)`)

// parsePasvReply extracts the host:port a PASV reply advertises.
func parsePasvReply(t *testing.T, msg string) string {
	t.Helper()
	m := pasvTuple.FindStringSubmatch(msg)
	if m == nil {
		t.Fatalf("no PASV tuple in %q", msg)
	}
	nums := make([]int, 6)
	for i := 1; i <= 6; i++ {
		nums[i-1], _ = strconv.Atoi(m[i])
	}
	port := nums[4]*256 + nums[5]
	return fmt.Sprintf("%d.%d.%d.%d:%d", nums[0], nums[1], nums[2], nums[3], port)
}

// newShortTimeoutList returns a fresh timerlist.List with a timeout short
// enough for idle-sweep tests to exercise without a real sleep in the
// seconds range. srv is unused but kept so call sites read naturally next to
// the server they'll install it on.
func newShortTimeoutList(t *testing.T, srv *Server) *timerlist.List {
	t.Helper()
	return timerlist.New(5 * time.Millisecond)
}

func mustWriteFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
