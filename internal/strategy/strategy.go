package strategy

import (
	"errors"

	"github.com/angeloszaimis/tcp-load-balancer/internal/backend"
)

// ErrNoBackends is returned when a selector is built from an empty endpoint list.
var ErrNoBackends = errors.New("at least one backend is required")

// Selector hands out the backend for the next connection. Next never fails.
type Selector interface {
	Next() backend.Endpoint
	Endpoints() []backend.Endpoint
}
