package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector is an optional interface for collecting server metrics.
// Implementations can send metrics to monitoring systems like Prometheus,
// StatsD, DataDog, etc.
//
// All methods are called from various points in the server lifecycle and
// should be non-blocking. If a method takes significant time, it should
// dispatch the work asynchronously.
//
// The server checks whether the collector is nil before calling methods, so
// implementations don't need to handle nil receivers.
type MetricsCollector interface {
	// RecordCommand records metrics for an FTP command execution.
	RecordCommand(cmd string, success bool, duration time.Duration)

	// RecordTransfer records metrics for a file transfer operation.
	// operation is either "RETR" (download) or "STOR" (upload).
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection records metrics for connection attempts.
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication records metrics for authentication attempts.
	RecordAuthentication(success bool, user string)
}

// PrometheusCollector implements MetricsCollector over client_golang,
// registering its series with the given registerer (pass
// prometheus.DefaultRegisterer to export on the default /metrics handler).
type PrometheusCollector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	transferBytes   *prometheus.CounterVec
	connections     *prometheus.CounterVec
	authAttempts    *prometheus.CounterVec
}

// NewPrometheusCollector registers its metric families with reg and returns
// a ready-to-use collector.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miniftpd_commands_total",
			Help: "FTP commands processed, by verb and outcome.",
		}, []string{"cmd", "success"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "miniftpd_command_duration_seconds",
			Help: "FTP command handling latency.",
		}, []string{"cmd"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miniftpd_transfer_bytes_total",
			Help: "Bytes transferred, by operation.",
		}, []string{"operation"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miniftpd_connections_total",
			Help: "Connection attempts, by outcome.",
		}, []string{"accepted", "reason"}),
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "miniftpd_auth_attempts_total",
			Help: "Authentication attempts, by outcome.",
		}, []string{"success"}),
	}
	reg.MustRegister(c.commands, c.commandDuration, c.transferBytes, c.connections, c.authAttempts)
	return c
}

func (c *PrometheusCollector) RecordCommand(cmd string, success bool, duration time.Duration) {
	c.commands.WithLabelValues(cmd, boolLabel(success)).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

func (c *PrometheusCollector) RecordTransfer(operation string, bytes int64, _ time.Duration) {
	c.transferBytes.WithLabelValues(operation).Add(float64(bytes))
}

func (c *PrometheusCollector) RecordConnection(accepted bool, reason string) {
	c.connections.WithLabelValues(boolLabel(accepted), reason).Inc()
}

func (c *PrometheusCollector) RecordAuthentication(success bool, _ string) {
	c.authAttempts.WithLabelValues(boolLabel(success)).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
