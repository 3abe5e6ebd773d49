// Package metrics provides real-time session metrics for the load balancer.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Accepted client connections
//   - Backend selection counts and active sessions per backend
//   - Backend connect failures
//   - Session outcomes, bytes relayed in each direction, and session
//     durations with percentile calculations (P50, P95, P99)
//
// The collector runs in a dedicated goroutine. Connection handlers emit events
// with Emit, which never blocks: when the buffer is full the event is dropped
// and counted. Active session counts are kept outside the pipeline and stay
// exact when events are dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:      metrics.EventSessionClosed,
//		Backend:   "192.168.1.101:7070",
//		Outcome:   "relayed",
//		Duration:  3 * time.Second,
//		BytesUp:   512,
//		BytesDown: 4096,
//	})
//
//	snapshot := collector.Snapshot("round-robin")
//
// Snapshots are served as JSON by Handler. The collector drains buffered
// events on shutdown.
package metrics
