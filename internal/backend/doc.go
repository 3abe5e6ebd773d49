// Package backend defines the upstream endpoints the load balancer relays
// client connections to. An Endpoint is an immutable host/port pair that is
// validated once at startup and shared freely between sessions.
package backend
