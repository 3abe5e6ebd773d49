package metrics

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

type EventType string

const (
	EventSessionAccepted    EventType = "session_accepted"
	EventBackendSelected    EventType = "backend_selected"
	EventBackendUnreachable EventType = "backend_unreachable"
	EventSessionClosed      EventType = "session_closed"
)

type MetricEvent struct {
	Type      EventType
	Backend   string
	Outcome   string
	Duration  time.Duration
	BytesUp   int64
	BytesDown int64
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
	dropped atomic.Int64
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues event without blocking. A nil collector discards it.
// Active session counts are updated before queueing, so they stay exact even
// when the buffer is full and the event itself is dropped.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	switch event.Type {
	case EventBackendSelected:
		c.metrics.OpenSession(event.Backend)
	case EventSessionClosed:
		c.metrics.CloseSession(event.Backend)
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Add(1)
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventSessionAccepted:
		c.metrics.IncrementAccepted()

	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)

	case EventBackendUnreachable:
		c.metrics.RecordUnreachable(event.Backend)

	case EventSessionClosed:
		c.metrics.RecordSessionClosed(event.Backend, event.Outcome, event.Duration, event.BytesUp, event.BytesDown)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(algorithm string) Snapshot {
	snap := c.metrics.Snapshot(algorithm)
	snap.DroppedEvents = c.dropped.Load()
	return snap
}
