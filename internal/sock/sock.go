// Package sock provides nonblocking TCP socket constructors used by the
// reactor and by active/passive data-connection setup.
package sock

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Bind creates a nonblocking, close-on-exec TCP socket bound to addr but not
// yet listening. Callers that want to accept connections must call Listen.
func Bind(addr string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("sock: socket: %w", err)
	}
	sa, err := sockaddr(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sock: bind %s: %w", addr, err)
	}
	return fd, nil
}

// Listen marks a bound socket as listening with the given backlog.
func Listen(fd, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("sock: listen: %w", err)
	}
	return nil
}

// Accept accepts a connection from a listening socket, returning a
// nonblocking, close-on-exec peer descriptor and its address.
func Accept(listenFD int) (int, net.Addr, error) {
	nfd, sa, err := unix.Accept4(listenFD, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sockaddrToAddr(sa), nil
}

// Connect opens a blocking TCP connection to addr. Active-mode PORT data
// connections are established this way from a worker goroutine, never from
// the reactor.
func Connect(addr string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("sock: socket: %w", err)
	}
	sa, err := sockaddr(addr)
	if err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sock: connect %s: %w", addr, err)
	}
	return fd, nil
}

// SetNoDelay toggles TCP_NODELAY.
func SetNoDelay(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolToInt(on))
}

// SetKeepAlive toggles SO_KEEPALIVE.
func SetKeepAlive(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, boolToInt(on))
}

// SetReuseAddr toggles SO_REUSEADDR.
func SetReuseAddr(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolToInt(on))
}

// SetReusePort toggles SO_REUSEPORT.
func SetReusePort(fd int, on bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolToInt(on))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sockaddr(addr string) (unix.Sockaddr, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("sock: %s: %w", addr, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("sock: cannot resolve %s", host)
		}
		ip = ips[0]
	}
	var p int
	if _, err := fmt.Sscanf(port, "%d", &p); err != nil {
		return nil, fmt.Errorf("sock: bad port %s: %w", port, err)
	}
	sa4 := &unix.SockaddrInet4{Port: p}
	copy(sa4.Addr[:], ip.To4())
	return sa4, nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}
