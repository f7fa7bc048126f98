// Package server implements a multi-user FTP server core: a single
// reactor goroutine multiplexing the listening socket and every accepted
// control connection over epoll, paired with a worker pool that runs each
// session's command handlers off the reactor thread. Passive-mode data
// listeners are not registered with the reactor; the worker serving the
// session accepts on them directly.
//
// A minimal server looks like:
//
//	cfg := config.Default()
//	srv, err := server.New("/srv/ftp", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := srv.Run("0.0.0.0:8089"); err != nil {
//	    log.Fatal(err)
//	}
//
// Authentication is driven entirely by cfg.Admin and cfg.Users: the admin
// account may read and write anywhere under the server root, ordinary
// accounts may only browse (CWD, PWD, LIST, NLST, SIZE) and cannot
// download (RETR) or change files, and an account with an empty password
// authenticates without a PASS check. There is no pluggable driver
// interface -- this server has exactly one filesystem-backed root and one
// flat user table, per its configuration model.
//
// The reactor never performs blocking I/O beyond accept(2); every command
// that touches the filesystem or a data connection runs on a worker
// goroutine from the pool, so a slow disk or a slow peer never stalls
// readiness dispatch for any other session.
//
// Passive mode (PASV) and active mode (PORT) are both supported; EPSV and
// EPRT (their IPv6-capable counterparts) are not, nor is AUTH TLS --
// sessions are always plaintext. See SPEC_FULL.md for the full command
// surface and the invariants this package maintains.
package server
