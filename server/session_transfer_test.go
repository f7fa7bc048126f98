package server

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"miniftpd/config"
)

func pasvConfig() config.Config {
	cfg := config.Default()
	cfg.PasvEnable = true
	cfg.PasvPortMin = 30100
	cfg.PasvPortMax = 30200
	return cfg
}

func enterPassive(t *testing.T, sess *session, peerFD int) string {
	t.Helper()
	peerWrite(t, peerFD, "PASV")
	sess.handleReadable()
	lines := peerReadLines(t, peerFD, 1)
	return parsePasvReply(t, lines[0])
}

func TestSTORRoundTripViaPASV(t *testing.T) {
	srv, root := newTestServer(t, pasvConfig())
	fd, peerFD := socketpair(t)
	sess := newSession(fd, newControlConn(fd), "127.0.0.1", srv)
	sess.state = stateAuthenticated
	sess.isAdmin = true

	addr := enterPassive(t, sess, peerFD)

	content := bytes.Repeat([]byte("miniftpd round trip data\n"), 200)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		dc, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Errorf("client dial: %v", err)
			return
		}
		defer dc.Close()
		if _, err := dc.Write(content); err != nil {
			t.Errorf("client write: %v", err)
			return
		}
		dc.(*net.TCPConn).CloseWrite()
		io.Copy(io.Discard, dc)
	}()

	peerWrite(t, peerFD, "STOR upload.txt")
	sess.handleReadable()
	wg.Wait()

	codes := peerReadReplies(t, peerFD, 2)
	if codes[0] != codeFileStatusOK {
		t.Fatalf("STOR preliminary reply = %d, want %d", codes[0], codeFileStatusOK)
	}
	if codes[1] != codeClosingData {
		t.Fatalf("STOR reply = %d, want %d", codes[1], codeClosingData)
	}

	got, err := os.ReadFile(filepath.Join(root, "upload.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("uploaded content mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestRETRRoundTripViaPASV(t *testing.T) {
	srv, root := newTestServer(t, pasvConfig())
	fd, peerFD := socketpair(t)
	sess := newSession(fd, newControlConn(fd), "127.0.0.1", srv)
	sess.state = stateAuthenticated
	sess.isAdmin = true

	content := bytes.Repeat([]byte("download me please\n"), 500)
	mustWriteFile(t, filepath.Join(root, "download.txt"), content)

	addr := enterPassive(t, sess, peerFD)

	var received []byte
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		dc, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Errorf("client dial: %v", err)
			return
		}
		defer dc.Close()
		received, err = io.ReadAll(dc)
		if err != nil {
			t.Errorf("client read: %v", err)
		}
	}()

	peerWrite(t, peerFD, "RETR download.txt")
	sess.handleReadable()
	wg.Wait()

	codes := peerReadReplies(t, peerFD, 2)
	if codes[0] != codeFileStatusOK {
		t.Fatalf("RETR preliminary reply = %d, want %d", codes[0], codeFileStatusOK)
	}
	if codes[1] != codeClosingData {
		t.Fatalf("RETR reply = %d, want %d", codes[1], codeClosingData)
	}
	if !bytes.Equal(received, content) {
		t.Fatalf("downloaded content mismatch: got %d bytes, want %d", len(received), len(content))
	}
}

func TestSTORRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t, pasvConfig())
	fd, peerFD := socketpair(t)
	sess := newSession(fd, newControlConn(fd), "127.0.0.1", srv)
	sess.state = stateAuthenticated
	sess.isAdmin = false

	peerWrite(t, peerFD, "STOR nope.txt")
	sess.handleReadable()

	codes := peerReadReplies(t, peerFD, 1)
	if codes[0] != codeActionNotTaken {
		t.Fatalf("reply = %d, want %d", codes[0], codeActionNotTaken)
	}
}

func TestRESTThenSTORResumesAtOffset(t *testing.T) {
	srv, root := newTestServer(t, pasvConfig())
	fd, peerFD := socketpair(t)
	sess := newSession(fd, newControlConn(fd), "127.0.0.1", srv)
	sess.state = stateAuthenticated
	sess.isAdmin = true

	existing := []byte("0123456789")
	mustWriteFile(t, filepath.Join(root, "resume.txt"), existing)

	addr := enterPassive(t, sess, peerFD)

	appended := []byte("ABCDE")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		dc, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Errorf("client dial: %v", err)
			return
		}
		defer dc.Close()
		dc.Write(appended)
		dc.(*net.TCPConn).CloseWrite()
		io.Copy(io.Discard, dc)
	}()

	peerWrite(t, peerFD, "REST 10")
	peerWrite(t, peerFD, "STOR resume.txt")
	sess.handleReadable()
	wg.Wait()

	codes := peerReadReplies(t, peerFD, 3)
	if codes[0] != codePendingFurther {
		t.Fatalf("REST reply = %d", codes[0])
	}
	if codes[1] != codeFileStatusOK {
		t.Fatalf("STOR preliminary reply = %d", codes[1])
	}
	if codes[2] != codeClosingData {
		t.Fatalf("STOR reply = %d", codes[2])
	}

	got, err := os.ReadFile(filepath.Join(root, "resume.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := append(append([]byte{}, existing...), appended...)
	if !bytes.Equal(got, want) {
		t.Fatalf("resumed content = %q, want %q", got, want)
	}
}
