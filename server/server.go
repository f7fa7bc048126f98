package server

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"miniftpd/config"
	"miniftpd/internal/netpoll"
	"miniftpd/internal/ratelimit"
	"miniftpd/internal/sock"
	"miniftpd/internal/timerlist"
	"miniftpd/internal/workerpool"
)

// Server wires together the reactor, the worker pool, and the idle-session
// timer list. It implements netpoll.Handler itself; Run drives the event
// loop until Shutdown is called.
type Server struct {
	root string
	cfg  config.Config

	log     logger
	metrics MetricsCollector

	maxClients    int
	idleTimeout   time.Duration
	sweepInterval time.Duration
	pasvEnable    bool
	pasvMin       uint16
	pasvMax       uint16
	coreWorkers   int
	globalLimiter *ratelimit.Limiter

	loop     *netpoll.EventLoop
	pool     *workerpool.Pool
	timers   *timerlist.List
	listenFD int
	timerFD  int

	mu          sync.Mutex
	sessions    map[int]*session
	activeCount int
	connsByIP   map[string]int
	nextPasv    uint16
}

// New constructs a Server serving root, configured by cfg and any
// additional Options (which take precedence over cfg's equivalent fields).
func New(root string, cfg config.Config, opts ...Option) (*Server, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("server: root %q is not a directory", root)
	}

	s := &Server{
		root:          root,
		cfg:           cfg,
		log:           defaultLogger(),
		maxClients:    cfg.MaxClients,
		idleTimeout:   time.Duration(cfg.IdleTimeoutSecs) * time.Second,
		sweepInterval: time.Duration(cfg.SweepIntervalSecs) * time.Second,
		pasvEnable:    cfg.PasvEnable,
		pasvMin:       cfg.PasvPortMin,
		pasvMax:       cfg.PasvPortMax,
		globalLimiter: ratelimit.New(cfg.MaxSpeed),
		listenFD:      -1,
		timerFD:       -1,
		sessions:      make(map[int]*session),
		connsByIP:     make(map[string]int),
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = 90 * time.Second
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = 5 * time.Second
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.nextPasv = s.pasvMin

	s.pool = workerpool.New(s.coreWorkers)
	s.timers = timerlist.New(s.idleTimeout)
	return s, nil
}

// Run binds the listening socket and drives the reactor until Shutdown is
// called. It blocks for the server's lifetime.
func (s *Server) Run(addr string) error {
	lfd, err := sock.Bind(addr)
	if err != nil {
		return err
	}
	sock.SetReuseAddr(lfd, true)
	if err := sock.Listen(lfd, 128); err != nil {
		return err
	}
	s.listenFD = lfd

	loop, err := netpoll.New()
	if err != nil {
		return err
	}
	s.loop = loop
	if err := loop.AddListener(lfd); err != nil {
		return err
	}

	timerFD, err := netpoll.NewIntervalTimer(s.sweepInterval)
	if err != nil {
		return err
	}
	s.timerFD = timerFD
	if err := loop.AddTimer(timerFD); err != nil {
		return err
	}

	s.log.Infof("miniftpd listening on %s", addr)
	return loop.Run(s)
}

// Shutdown stops the reactor and drains the worker pool.
func (s *Server) Shutdown() error {
	if s.loop != nil {
		s.loop.Stop()
		s.loop.Close()
	}
	if s.listenFD >= 0 {
		closeFD(s.listenFD)
	}
	if s.timerFD >= 0 {
		closeFD(s.timerFD)
	}
	if s.pool != nil {
		return s.pool.Close()
	}
	return nil
}

// Ready implements netpoll.Handler for Listen tokens: only the main
// listener is ever registered as Listen by this server (passive data
// listeners are accepted synchronously by the owning worker, never through
// the reactor), so Ready always means "accept a new control connection".
func (s *Server) Ready(fd int) {
	for {
		cfd, addr, err := sock.Accept(fd)
		if err != nil {
			return
		}
		s.admit(cfd, addr)
	}
}

func (s *Server) admit(fd int, addr net.Addr) {
	host := ""
	if tcp, ok := addr.(*net.TCPAddr); ok {
		host = tcp.IP.String()
	}

	s.mu.Lock()
	reject := s.maxClients > 0 && s.activeCount >= s.maxClients
	if !reject {
		s.activeCount++
		s.connsByIP[host]++
	}
	s.mu.Unlock()

	if reject {
		s.recordConnection(false, "max_clients_reached")
		closeFD(fd)
		return
	}

	sock.SetNoDelay(fd, true)
	c := newControlConn(fd)
	sess := newSession(fd, c, host, s)

	s.mu.Lock()
	s.sessions[fd] = sess
	s.mu.Unlock()
	s.timers.Insert(fd, sess)

	if err := s.loop.AddConn(fd); err != nil {
		s.removeSession(sess)
		return
	}
	s.recordConnection(true, "accepted")
}

// Notify implements netpoll.Handler for Notify and Timer tokens.
func (s *Server) Notify(fd int, kind netpoll.TokenKind, r netpoll.Readiness) {
	if kind == netpoll.Timer {
		netpoll.DrainTimer(fd)
		for _, e := range s.timers.RemoveIdle() {
			if sess, ok := e.Value.(*session); ok {
				sess.teardown()
			}
		}
		return
	}

	s.mu.Lock()
	sess, ok := s.sessions[fd]
	s.mu.Unlock()
	if !ok {
		s.loop.Remove(fd)
		return
	}

	s.timers.Touch(fd)

	if r.Hup() || r.Error() {
		sess.teardown()
		return
	}

	if !sess.busy.CompareAndSwap(false, true) {
		return
	}
	s.pool.Submit(func() {
		defer sess.busy.Store(false)
		sess.handleReadable()
	})
}

func (s *Server) removeSession(sess *session) {
	if s.loop != nil {
		s.loop.Remove(sess.id)
	}
	s.timers.Remove(sess.id)
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.activeCount--
	if sess.remote != "" {
		s.connsByIP[sess.remote]--
		if s.connsByIP[sess.remote] <= 0 {
			delete(s.connsByIP, sess.remote)
		}
	}
	s.mu.Unlock()
}

// allocatePasvListener binds a fresh ephemeral-range listener for a PASV
// command, round-robining through the configured port range.
func (s *Server) allocatePasvListener(sess *session) (int, int, error) {
	if !s.pasvEnable {
		return -1, 0, fmt.Errorf("passive mode disabled")
	}
	s.mu.Lock()
	start := s.nextPasv
	s.mu.Unlock()

	for i := 0; i < int(s.pasvMax-s.pasvMin)+1; i++ {
		port := start + uint16(i)
		if port > s.pasvMax {
			port = s.pasvMin + (port - s.pasvMax - 1)
		}
		fd, err := sock.Bind(fmt.Sprintf("0.0.0.0:%d", port))
		if err != nil {
			continue
		}
		if err := sock.Listen(fd, 1); err != nil {
			closeFD(fd)
			continue
		}
		s.mu.Lock()
		s.nextPasv = port + 1
		if s.nextPasv > s.pasvMax {
			s.nextPasv = s.pasvMin
		}
		s.mu.Unlock()
		return fd, int(port), nil
	}
	return -1, 0, fmt.Errorf("no free passive port available")
}

// publicIP returns the address PASV replies advertise. Bound to 0.0.0.0, so
// it is reported back as the loopback address unless overridden by a real
// deployment's reverse-proxy-aware configuration (out of scope here).
func (s *Server) publicIP() net.IP {
	return net.IPv4(127, 0, 0, 1)
}

func (s *Server) recordConnection(accepted bool, reason string) {
	if s.metrics != nil {
		s.metrics.RecordConnection(accepted, reason)
	}
}

func (s *Server) recordAuth(success bool, user string) {
	if s.metrics != nil {
		s.metrics.RecordAuthentication(success, user)
	}
}

func (s *Server) recordTransfer(op string, n int64, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordTransfer(op, n, d)
	}
	s.log.WithField("op", op).WithField("bytes", n).WithField("duration", d).Info("transfer complete")
}

func (s *Server) recordCommand(cmd string, success bool, d time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordCommand(cmd, success, d)
	}
}

func (s *Server) logf(event string, id int, kv ...any) {
	fields := map[string]any{"event": event, "session": id}
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			fields[key] = kv[i+1]
		}
	}
	s.log.WithFields(fields).Warn(event)
}
