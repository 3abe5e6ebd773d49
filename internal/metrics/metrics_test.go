package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-load-balancer/internal/metrics"
)

const (
	backendA = "192.168.1.101:7070"
	backendB = "192.168.1.102:7070"
)

var _ = Describe("Metrics", func() {
	var m *metrics.Metrics

	BeforeEach(func() {
		m = metrics.NewMetrics()
	})

	Describe("NewMetrics", func() {
		It("should create a new metrics instance", func() {
			Expect(m).NotTo(BeNil())
		})
	})

	Describe("IncrementAccepted", func() {
		It("should count accepted sessions", func() {
			m.IncrementAccepted()
			m.IncrementAccepted()

			snap := m.Snapshot("round-robin")
			Expect(snap.TotalSessions).To(Equal(int64(2)))
		})
	})

	Describe("RecordBackendSelection", func() {
		It("should track selections per backend", func() {
			m.RecordBackendSelection(backendA)
			m.RecordBackendSelection(backendA)
			m.RecordBackendSelection(backendB)

			snap := m.Snapshot("round-robin")
			Expect(snap.Backends[backendA].Selections).To(Equal(int64(2)))
			Expect(snap.Backends[backendB].Selections).To(Equal(int64(1)))
			Expect(snap.ActiveSessions).To(Equal(int64(0)))
		})
	})

	Describe("OpenSession and CloseSession", func() {
		It("should track active sessions per backend", func() {
			m.OpenSession(backendA)
			m.OpenSession(backendA)
			m.OpenSession(backendB)
			m.CloseSession(backendA)

			snap := m.Snapshot("round-robin")
			Expect(snap.Backends[backendA].Active).To(Equal(int64(1)))
			Expect(snap.Backends[backendB].Active).To(Equal(int64(1)))
			Expect(snap.ActiveSessions).To(Equal(int64(2)))
		})

		It("should never drive active sessions negative", func() {
			m.CloseSession(backendA)
			m.CloseSession(backendA)

			snap := m.Snapshot("round-robin")
			Expect(snap.ActiveSessions).To(Equal(int64(0)))
			Expect(snap.Backends).NotTo(HaveKey(backendA))
		})
	})

	Describe("RecordUnreachable", func() {
		It("should count connect failures", func() {
			m.RecordBackendSelection(backendA)
			m.RecordUnreachable(backendA)
			m.RecordSessionClosed(backendA, "backend-unreachable", time.Millisecond, 0, 0)

			snap := m.Snapshot("round-robin")
			backend := snap.Backends[backendA]
			Expect(backend.Unreachable).To(Equal(int64(1)))
			Expect(backend.Outcomes["backend-unreachable"]).To(Equal(int64(1)))
		})
	})

	Describe("RecordSessionClosed", func() {
		It("should record outcome, bytes and duration", func() {
			m.RecordSessionClosed(backendA, "relayed", 100*time.Millisecond, 10, 200)
			m.RecordSessionClosed(backendA, "relay-error", 200*time.Millisecond, 5, 0)

			snap := m.Snapshot("round-robin")
			backend := snap.Backends[backendA]

			Expect(backend.Outcomes["relayed"]).To(Equal(int64(1)))
			Expect(backend.Outcomes["relay-error"]).To(Equal(int64(1)))
			Expect(backend.BytesUp).To(Equal(int64(15)))
			Expect(backend.BytesDown).To(Equal(int64(200)))
			Expect(backend.AvgDuration).To(Equal(150 * time.Millisecond))
		})

		It("should calculate percentiles correctly", func() {
			for i := 1; i <= 100; i++ {
				m.RecordSessionClosed(backendA, "relayed", time.Duration(i)*time.Millisecond, 0, 0)
			}

			snap := m.Snapshot("round-robin")
			backend := snap.Backends[backendA]

			Expect(backend.P50Duration).To(BeNumerically("~", 50*time.Millisecond, 1*time.Millisecond))
			Expect(backend.P95Duration).To(BeNumerically("~", 95*time.Millisecond, 1*time.Millisecond))
			Expect(backend.P99Duration).To(BeNumerically("~", 99*time.Millisecond, 1*time.Millisecond))
		})

		It("should limit stored durations to 1000", func() {
			for i := 1; i <= 1500; i++ {
				m.RecordSessionClosed(backendA, "relayed", time.Duration(i)*time.Millisecond, 0, 0)
			}

			snap := m.Snapshot("round-robin")
			Expect(snap.Backends[backendA].AvgDuration).To(BeNumerically(">", 500*time.Millisecond))
		})
	})

	Describe("Snapshot", func() {
		It("should return a snapshot with algorithm", func() {
			snap := m.Snapshot("round-robin")
			Expect(snap.Algorithm).To(Equal("round-robin"))
		})

		It("should include uptime", func() {
			time.Sleep(10 * time.Millisecond)

			snap := m.Snapshot("round-robin")
			Expect(snap.Uptime).To(BeNumerically(">", 0))
		})

		It("should handle empty metrics", func() {
			snap := m.Snapshot("round-robin")

			Expect(snap.TotalSessions).To(Equal(int64(0)))
			Expect(snap.Backends).To(BeEmpty())
		})

		It("should return independent snapshots", func() {
			m.RecordSessionClosed(backendA, "relayed", time.Millisecond, 0, 0)
			snap1 := m.Snapshot("round-robin")

			m.RecordSessionClosed(backendA, "relayed", time.Millisecond, 0, 0)
			snap2 := m.Snapshot("round-robin")

			Expect(snap1.Backends[backendA].Outcomes["relayed"]).To(Equal(int64(1)))
			Expect(snap2.Backends[backendA].Outcomes["relayed"]).To(Equal(int64(2)))
		})
	})
})
