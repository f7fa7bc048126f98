package server

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"miniftpd/internal/buffer"
)

// conn composes a nonblocking descriptor with an input Buffer, matching the
// original Connection's role: frame CRLF command lines, perform blocking-
// style writes over a nonblocking socket, and hand off to sendfile(2) for
// zero-copy transfers.
type conn struct {
	fd    int
	input *buffer.Buffer

	// filterTelnet is set on control connections: raw client command bytes
	// may carry Telnet IAC negotiation sequences (many FTP clients are built
	// on a generic Telnet-capable socket layer), which must be stripped
	// before CRLF line framing. Data connections never set this.
	filterTelnet bool
}

func newConn(fd int) *conn {
	return &conn{fd: fd, input: buffer.New()}
}

// newControlConn is newConn plus Telnet IAC filtering on the read path, for
// the control connection of an FTP session.
func newControlConn(fd int) *conn {
	return &conn{fd: fd, input: buffer.New(), filterTelnet: true}
}

// readMsg drains what's currently readable into the input buffer and
// returns the next CRLF-framed line, if any. ok is false when no full line
// is buffered yet (the caller should wait for the next readiness event) or
// the peer has closed (closed=true).
func (c *conn) readMsg() (line []byte, ok bool, closed bool) {
	var peerClosed bool
	var err error
	if c.filterTelnet {
		peerClosed, err = c.readMsgFiltered()
	} else {
		_, rerr := c.input.Read(c.fd)
		peerClosed, err = rerr == io.EOF, nil
	}
	// A final readable chunk can arrive bundled with the peer's close in the
	// same event; drain any line it completed before reporting the session
	// closed, so a trailing command (e.g. QUIT) is never silently dropped.
	line, ok = c.input.GetCRLFLine()
	if ok {
		return line, true, false
	}
	if err != nil || peerClosed {
		return nil, false, true
	}
	return nil, false, false
}

// readMsgFiltered is readMsg's Telnet-aware read path. It bypasses the
// Buffer's own scatter read so that each raw chunk can be passed through a
// fresh telnetReader -- stripping IAC negotiation sequences -- before being
// appended into the line-framing buffer. A telnetReader is built fresh per
// chunk (rather than once, wrapping the fd) because it is a bufio.Reader
// underneath, which permanently caches the first "no data right now" error
// from a nonblocking descriptor; re-entering that reader across multiple
// readiness events would wedge it.
func (c *conn) readMsgFiltered() (closed bool, err error) {
	var scratch [4096]byte
	for {
		n, rerr := unix.Read(c.fd, scratch[:])
		if rerr != nil {
			if rerr == unix.EINTR {
				continue
			}
			if rerr == unix.EAGAIN {
				return false, nil
			}
			return false, fmt.Errorf("conn: read: %w", rerr)
		}
		if n == 0 {
			return true, nil
		}
		filtered, ferr := io.ReadAll(newTelnetReader(bytes.NewReader(scratch[:n])))
		if ferr != nil {
			return false, fmt.Errorf("conn: telnet filter: %w", ferr)
		}
		c.input.Append(filtered)
		if n < len(scratch) {
			return false, nil
		}
	}
}

// readBuf drains all currently readable bytes, performing one more scatter
// read first. closed is true once the peer has shut its write side and no
// more data is or will be buffered.
func (c *conn) readBuf() (data []byte, closed bool) {
	_, err := c.input.Read(c.fd)
	data = c.input.ReadBuf()
	if len(data) > 0 {
		return data, false
	}
	return nil, err == io.EOF
}

// send writes buf in full, retrying on EAGAIN by waiting for writability via
// poll(2) -- the control and data descriptors are nonblocking throughout.
func (c *conn) send(buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(c.fd, buf)
		if err != nil {
			if err == unix.EAGAIN {
				if perr := waitWritable(c.fd); perr != nil {
					return perr
				}
				continue
			}
			return fmt.Errorf("conn: write: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// sendFile performs a zero-copy send of size bytes from srcFD starting at
// offset (nil = current position), in the caller's chunk size, retrying on
// EAGAIN the same way send does.
func (c *conn) sendFile(srcFD int, offset *int64, size int) (int, error) {
	total := 0
	for total < size {
		n, err := unix.Sendfile(c.fd, srcFD, offset, size-total)
		if err != nil {
			if err == unix.EAGAIN {
				if perr := waitWritable(c.fd); perr != nil {
					return total, perr
				}
				continue
			}
			return total, fmt.Errorf("conn: sendfile: %w", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func waitReadable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, 5000)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("conn: poll: %w", err)
		}
		return nil
	}
}

func waitWritable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		_, err := unix.Poll(fds, 5000)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("conn: poll: %w", err)
		}
		return nil
	}
}

func (c *conn) shutdown() {
	unix.Shutdown(c.fd, unix.SHUT_RDWR)
}

func (c *conn) close() {
	unix.Close(c.fd)
}
