package sock

import (
	"net"
	"testing"

	"golang.org/x/sys/unix"
)

func TestBindListenAcceptConnect(t *testing.T) {
	lfd, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer unix.Close(lfd)

	sa, err := unix.Getsockname(lfd)
	if err != nil {
		t.Fatalf("Getsockname: %v", err)
	}
	port := sa.(*unix.SockaddrInet4).Port

	if err := Listen(lfd, 4); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	addr := (&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}).String()

	cfd, err := Connect(addr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer unix.Close(cfd)

	accepted := false
	for i := 0; i < 100 && !accepted; i++ {
		nfd, _, err := Accept(lfd)
		if err == unix.EAGAIN {
			continue
		}
		if err != nil {
			t.Fatalf("Accept: %v", err)
		}
		unix.Close(nfd)
		accepted = true
	}
	if !accepted {
		t.Fatalf("never accepted the connection")
	}
}

func TestSetsockopts(t *testing.T) {
	fd, err := Bind("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	defer unix.Close(fd)
	if err := SetNoDelay(fd, true); err != nil {
		t.Fatalf("SetNoDelay: %v", err)
	}
	if err := SetKeepAlive(fd, true); err != nil {
		t.Fatalf("SetKeepAlive: %v", err)
	}
	if err := SetReuseAddr(fd, true); err != nil {
		t.Fatalf("SetReuseAddr: %v", err)
	}
}
