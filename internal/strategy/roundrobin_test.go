package strategy_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
	"github.com/angeloszaimis/tcp-load-balancer/internal/strategy"
)

var _ = Describe("Roundrobin", func() {
	var (
		selector  strategy.Selector
		endpoints []backend.Endpoint
	)

	BeforeEach(func() {
		endpoints = []backend.Endpoint{
			mustEndpoint("192.168.1.101:7070"),
			mustEndpoint("192.168.1.102:7070"),
			mustEndpoint("192.168.1.103:7070"),
		}

		var err error
		selector, err = strategy.NewRoundRobinSelector(endpoints)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewRoundRobinSelector", func() {
		It("should reject an empty endpoint list", func() {
			s, err := strategy.NewRoundRobinSelector(nil)
			Expect(err).To(MatchError(strategy.ErrNoBackends))
			Expect(s).To(BeNil())
		})

		It("should not observe later changes to the caller's slice", func() {
			endpoints[0] = mustEndpoint("10.0.0.1:1")
			Expect(selector.Next()).To(Equal(mustEndpoint("192.168.1.101:7070")))
		})

		It("should expose a copy of its endpoints", func() {
			list := selector.Endpoints()
			Expect(list).To(HaveLen(3))
			list[0] = mustEndpoint("10.0.0.1:1")
			Expect(selector.Endpoints()[0]).To(Equal(mustEndpoint("192.168.1.101:7070")))
		})
	})

	Describe("Next", func() {
		It("should cycle through endpoints in list order and wrap", func() {
			Expect(selector.Next()).To(Equal(endpoints[0]))
			Expect(selector.Next()).To(Equal(endpoints[1]))
			Expect(selector.Next()).To(Equal(endpoints[2]))
			Expect(selector.Next()).To(Equal(endpoints[0]))
			Expect(selector.Next()).To(Equal(endpoints[1]))
		})

		It("should return each endpoint exactly once per N calls", func() {
			for round := 0; round < 10; round++ {
				seen := make(map[backend.Endpoint]int)
				for i := 0; i < len(endpoints); i++ {
					seen[selector.Next()]++
				}
				Expect(seen).To(HaveLen(3))
				for _, count := range seen {
					Expect(count).To(Equal(1))
				}
			}
		})

		It("should always return the only endpoint of a single-backend list", func() {
			single, err := strategy.NewRoundRobinSelector(endpoints[:1])
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < 5; i++ {
				Expect(single.Next()).To(Equal(endpoints[0]))
			}
		})

		Context("with concurrent callers", func() {
			It("should produce a contiguous sequence with no skips or duplicates", func() {
				const (
					workers = 50
					calls   = 300
				)

				var (
					wg     sync.WaitGroup
					mutex  sync.Mutex
					counts = make(map[backend.Endpoint]int)
				)

				for w := 0; w < workers; w++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						local := make(map[backend.Endpoint]int)
						for i := 0; i < calls; i++ {
							local[selector.Next()]++
						}
						mutex.Lock()
						for e, c := range local {
							counts[e] += c
						}
						mutex.Unlock()
					}()
				}
				wg.Wait()

				total := workers * calls
				for _, e := range endpoints {
					Expect(counts[e]).To(Equal(total / len(endpoints)))
				}

				// The cursor is back at the start after a multiple of N selections.
				Expect(selector.Next()).To(Equal(endpoints[0]))
			})
		})
	})
})

func mustEndpoint(address string) backend.Endpoint {
	e, err := backend.Parse(address)
	if err != nil {
		panic(err)
	}
	return e
}
