package server

import (
	"fmt"
	"os"
	"time"

	"miniftpd/internal/filelock"
	"miniftpd/internal/ratelimit"
	"miniftpd/internal/sock"
)

const sendfileChunk = 128 * 1024

func (s *session) handlePORT(arg string) {
	ip, port, err := parsePORT(arg)
	if err != nil {
		s.reply(codeSyntaxErrorArgs, "%v", err)
		return
	}
	s.activeHost = ip.String()
	s.activePort = port
	s.reply(codeCommandOK, "PORT command successful, data port is now %d", port)
}

func (s *session) handlePASV() {
	fd, port, err := s.server.allocatePasvListener(s)
	if err != nil {
		s.reply(codeCantOpenData, "%v", err)
		return
	}
	s.pasvListenFD = fd
	s.reply(codeEnteringPassive, "Entering Passive Mode %s.", formatPASV(s.server.publicIP(), port))
}

// getDataConn establishes the data connection for the next data-bearing
// command: consumes a pending passive accept if one is set, otherwise
// actively connects out to the remembered PORT peer.
func (s *session) getDataConn() (*conn, error) {
	if s.pasvListenFD >= 0 {
		listenFD := s.pasvListenFD
		var fd int
		var err error
		for tries := 0; tries < 10; tries++ {
			fd, _, err = sock.Accept(listenFD)
			if err == nil {
				break
			}
			if werr := waitReadable(listenFD); werr != nil {
				err = werr
				break
			}
		}
		closeFD(listenFD)
		s.pasvListenFD = -1
		if err != nil {
			return nil, fmt.Errorf("no incoming passive connection")
		}
		s.dataFD = fd
		return newConn(fd), nil
	}
	if s.activeHost == "" {
		return nil, fmt.Errorf("use PORT or PASV first")
	}
	fd, err := sock.Connect(fmt.Sprintf("%s:%d", s.activeHost, s.activePort))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to %s:%d", s.activeHost, s.activePort)
	}
	s.dataFD = fd
	return newConn(fd), nil
}

// transferLimiter returns the rate limiter transfers on this session should
// observe against. It is the server-wide limiter (config's single max_speed
// value), not a distinct allowance per session.
func (s *session) transferLimiter() *ratelimit.Limiter {
	return s.server.globalLimiter
}

func (s *session) handleRETR(arg string) {
	if !s.isAdmin {
		s.reply(codeActionNotTaken, "Permission denied.")
		return
	}
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}
	f, err := os.Open(fsPath)
	if err != nil {
		s.reply(codeActionNotTaken, "Failed to open file.")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.reply(codeActionNotTaken, "Not a regular file.")
		return
	}

	lock := filelock.New(fsPath)
	if err := lock.LockShared(); err != nil {
		s.reply(codeFileBusy, "File is busy.")
		return
	}
	defer lock.Unlock()

	dc, err := s.getDataConn()
	if err != nil {
		s.reply(codeCantOpenData, "%v", err)
		return
	}
	defer s.closeData()

	offset := s.restartOff
	s.restartOff = 0
	s.reply(codeFileStatusOK, "Opening BINARY mode data connection for %s (%d bytes).", arg, info.Size()-offset)

	start := time.Now()
	var sent int64
	srcFD := int(f.Fd())
	off := offset
	for {
		remaining := info.Size() - off
		if remaining <= 0 {
			break
		}
		chunk := int64(sendfileChunk)
		if remaining < chunk {
			chunk = remaining
		}
		n, err := dc.sendFile(srcFD, &off, int(chunk))
		sent += int64(n)
		s.transferLimiter().Observe(n)
		if err != nil || n == 0 {
			break
		}
	}

	full := sent == info.Size()-offset
	s.server.recordTransfer("RETR", sent, time.Since(start))
	if full {
		s.reply(codeClosingData, "Transfer complete.")
	} else {
		s.reply(codeConnClosedAbort, "Connection closed; transfer aborted.")
	}
}

func (s *session) handleSTOR(arg string) { s.store(arg, false, false) }
func (s *session) handleAPPE(arg string) { s.store(arg, true, false) }

func (s *session) handleSTOU() {
	name := fmt.Sprintf("ftp-%d", time.Now().UnixNano())
	s.store(name, false, true)
}

func (s *session) store(arg string, appendMode, unique bool) {
	if !s.isAdmin {
		s.reply(codeActionNotTaken, "Permission denied.")
		return
	}
	_, fsPath, err := s.resolvePath(arg)
	if err != nil {
		s.reply(codeActionNotTaken, "%v", err)
		return
	}

	flags := os.O_WRONLY | os.O_CREATE
	offset := s.restartOff
	s.restartOff = 0
	switch {
	case appendMode:
		flags |= os.O_APPEND
	case offset > 0:
		// resuming: do not truncate
	default:
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(fsPath, flags, 0o666&^s.umask)
	if err != nil {
		s.reply(codeActionNotTaken, "Failed to open file.")
		return
	}
	defer f.Close()

	if !appendMode && offset > 0 {
		if _, err := f.Seek(offset, 0); err != nil {
			s.reply(codeActionNotTaken, "Failed to seek.")
			return
		}
	}

	lock := filelock.New(fsPath)
	if err := lock.LockExclusive(); err != nil {
		s.reply(codeFileBusy, "File is busy.")
		return
	}
	defer lock.Unlock()

	dc, err := s.getDataConn()
	if err != nil {
		s.reply(codeCantOpenData, "%v", err)
		return
	}
	defer s.closeData()

	if unique {
		s.reply(codeFileStatusOK, "FILE: %s", arg)
	} else {
		s.reply(codeFileStatusOK, "Ok to send data.")
	}

	start := time.Now()
	var written int64
	limiter := s.transferLimiter()
	for {
		buf, closed := dc.readBuf()
		if len(buf) == 0 {
			if closed {
				break
			}
			if err := waitReadable(dc.fd); err != nil {
				break
			}
			continue
		}
		limiter.Observe(len(buf))
		if _, err := f.Write(buf); err != nil {
			s.reply(codeActionNotTaken, "Failed to write file.")
			return
		}
		written += int64(len(buf))
	}

	s.server.recordTransfer("STOR", written, time.Since(start))
	s.reply(codeClosingData, "Transfer file %s done", arg)
}
