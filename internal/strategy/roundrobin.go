package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
)

type roundRobinSelector struct {
	endpoints []backend.Endpoint
	// cursor always holds the index of the next endpoint, in [0, len(endpoints)).
	cursor atomic.Uint64
}

// NewRoundRobinSelector returns a Selector cycling through endpoints in order.
// The list is copied, so later changes to the caller's slice are not observed.
func NewRoundRobinSelector(endpoints []backend.Endpoint) (Selector, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoBackends
	}

	owned := make([]backend.Endpoint, len(endpoints))
	copy(owned, endpoints)

	return &roundRobinSelector{endpoints: owned}, nil
}

// Next reads the cursor and advances it in one compare-and-swap, so two
// concurrent callers can never observe the same pre-advance value.
func (rr *roundRobinSelector) Next() backend.Endpoint {
	n := uint64(len(rr.endpoints))

	for {
		current := rr.cursor.Load()
		if rr.cursor.CompareAndSwap(current, (current+1)%n) {
			return rr.endpoints[current]
		}
	}
}

func (rr *roundRobinSelector) Endpoints() []backend.Endpoint {
	out := make([]backend.Endpoint, len(rr.endpoints))
	copy(out, rr.endpoints)
	return out
}
