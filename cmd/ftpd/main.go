// Command ftpd runs the miniftpd server, or drives a bare-bones interactive
// client against one, depending on the subcommand invoked.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"miniftpd/config"
	"miniftpd/internal/filelock"
	"miniftpd/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ftpd",
		Short: "miniftpd is a small multi-user FTP server",
	}
	root.AddCommand(newServerCmd(), newClientCmd())
	return root
}

func newServerCmd() *cobra.Command {
	var configPath string
	var verbose bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the FTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose, metricsAddr)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "/etc/miniftpd.yaml", "path to the YAML config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9273", "address to serve Prometheus /metrics on; empty disables it")
	return cmd
}

func runServer(configPath string, verbose bool, metricsAddr string) error {
	log := logrus.StandardLogger()
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("ftpd: %w", err)
	}

	lock := filelock.New(cfg.Pidfile)
	if err := lock.LockExclusive(); err != nil {
		return fmt.Errorf("ftpd: another instance is already running (pidfile %s): %w", cfg.Pidfile, err)
	}
	defer lock.Unlock()
	if err := os.WriteFile(cfg.Pidfile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		log.WithError(err).Warn("failed to write pidfile contents")
	}

	root := "/srv/ftp"
	if info, statErr := os.Stat(root); statErr != nil || !info.IsDir() {
		root = os.TempDir()
	}

	opts := []server.Option{
		server.WithLogger(log),
		server.WithMaxClients(cfg.MaxClients),
		server.WithMaxSpeed(cfg.MaxSpeed),
		server.WithPassive(cfg.PasvEnable, cfg.PasvPortMin, cfg.PasvPortMax),
	}
	if metricsAddr != "" {
		opts = append(opts, server.WithMetrics(startMetricsServer(log, metricsAddr)))
	}

	srv, err := server.New(root, cfg, opts...)
	if err != nil {
		return fmt.Errorf("ftpd: %w", err)
	}

	addr := net.JoinHostPort(cfg.ServerAddr, strconv.Itoa(int(cfg.ServerPort)))
	log.Infof("miniftpd starting, root=%s addr=%s", root, addr)
	return srv.Run(addr)
}

// startMetricsServer registers a fresh Prometheus registry, serves it on
// /metrics over metricsAddr in the background, and returns the collector to
// be wired into the FTP server via server.WithMetrics.
func startMetricsServer(log *logrus.Logger, metricsAddr string) *server.PrometheusCollector {
	reg := prometheus.NewRegistry()
	collector := server.NewPrometheusCollector(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.WithError(err).Warn("metrics listener stopped")
		}
	}()
	log.Infof("miniftpd metrics listening on %s", metricsAddr)
	return collector
}

func newClientCmd() *cobra.Command {
	var host string
	var port int
	var user, pass string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to an FTP server and run a single command",
		Long: "client is a minimal diagnostic tool: it logs in, optionally runs\n" +
			"one command, and prints the reply. It is not an interactive shell.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(host, port, user, pass, args)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 8089, "server port")
	cmd.Flags().StringVar(&user, "user", "anonymous", "username")
	cmd.Flags().StringVar(&pass, "pass", "", "password")
	return cmd
}

func runClient(host string, port int, user, pass string, args []string) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("ftpd client: %w", err)
	}
	defer conn.Close()

	buf := make([]byte, 4096)
	if _, err := conn.Read(buf); err != nil {
		return fmt.Errorf("ftpd client: read banner: %w", err)
	}
	fmt.Print(string(buf))

	send := func(line string) error {
		_, err := conn.Write([]byte(line + "\r\n"))
		if err != nil {
			return err
		}
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		fmt.Print(string(buf[:n]))
		return nil
	}

	if err := send("USER " + user); err != nil {
		return err
	}
	if err := send("PASS " + pass); err != nil {
		return err
	}
	for _, a := range args {
		if err := send(a); err != nil {
			return err
		}
	}
	return send("QUIT")
}
