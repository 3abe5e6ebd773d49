package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net"
	"time"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
	"github.com/angeloszaimis/tcp-load-balancer/internal/relay"
	"github.com/angeloszaimis/tcp-load-balancer/internal/strategy"
)

// Outcome is the terminal state of one session.
type Outcome string

const (
	OutcomeRelayed            Outcome = "relayed"
	OutcomeBackendUnreachable Outcome = "backend-unreachable"
	OutcomeRelayError         Outcome = "relay-error"
)

// Dialer opens backend connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type ConnectionHandler struct {
	logger           *slog.Logger
	selector         strategy.Selector
	dialer           Dialer
	relay            *relay.Relay
	metricsCollector *metrics.Collector
}

// NewTCPDialer returns the dialer used for backend connections. A zero
// timeout leaves the operating system's connect timeout in place.
func NewTCPDialer(timeout time.Duration) *net.Dialer {
	return &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
}

func NewConnectionHandler(logger *slog.Logger, selector strategy.Selector, dialer Dialer, r *relay.Relay, collector *metrics.Collector) *ConnectionHandler {
	return &ConnectionHandler{
		logger:           logger,
		selector:         selector,
		dialer:           dialer,
		relay:            r,
		metricsCollector: collector,
	}
}

// ServeConn lets the handler plug into the TCP server.
func (h *ConnectionHandler) ServeConn(ctx context.Context, client net.Conn) {
	h.Handle(ctx, client)
}

// Handle owns client for the whole session. Both the client and, if opened,
// the backend connection are closed before it returns, on every path.
func (h *ConnectionHandler) Handle(ctx context.Context, client net.Conn) Outcome {
	defer client.Close()

	start := time.Now()
	log := h.logger.With(slog.String("session", newSessionID()))

	log.Info("connection accepted", slog.String("client", remoteAddr(client)))
	h.metricsCollector.Emit(metrics.MetricEvent{Type: metrics.EventSessionAccepted})

	target := h.selector.Next()

	log.Info("backend selected", slog.String("backend", target.String()))
	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:    metrics.EventBackendSelected,
		Backend: target.String(),
	})

	// One attempt only: the client is dropped rather than retried elsewhere.
	upstream, err := h.dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		_ = client.Close()

		log.Warn("backend unreachable",
			slog.String("backend", target.String()),
			slog.Any("err", err))
		h.metricsCollector.Emit(metrics.MetricEvent{
			Type:    metrics.EventBackendUnreachable,
			Backend: target.String(),
		})

		h.finish(log, target, OutcomeBackendUnreachable, start, relay.Stats{})
		return OutcomeBackendUnreachable
	}
	defer upstream.Close()

	outcome := OutcomeRelayed
	stats, err := h.relay.Run(ctx, client, upstream)
	if err != nil {
		outcome = OutcomeRelayError
		log.Warn("relay failed",
			slog.String("backend", target.String()),
			slog.Any("err", err))
	}

	_ = client.Close()
	_ = upstream.Close()

	h.finish(log, target, outcome, start, stats)
	return outcome
}

func (h *ConnectionHandler) finish(log *slog.Logger, target backend.Endpoint, outcome Outcome, start time.Time, stats relay.Stats) {
	duration := time.Since(start)

	log.Info("connection closed",
		slog.String("backend", target.String()),
		slog.String("outcome", string(outcome)),
		slog.Int64("bytes_up", stats.BytesUp),
		slog.Int64("bytes_down", stats.BytesDown),
		slog.Duration("duration", duration))

	h.metricsCollector.Emit(metrics.MetricEvent{
		Type:      metrics.EventSessionClosed,
		Backend:   target.String(),
		Outcome:   string(outcome),
		Duration:  duration,
		BytesUp:   stats.BytesUp,
		BytesDown: stats.BytesDown,
	})
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
