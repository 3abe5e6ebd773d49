package backend

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ErrInvalidEndpoint is returned when a host or port cannot identify a backend.
var ErrInvalidEndpoint = errors.New("invalid backend endpoint")

// Endpoint identifies a single backend server.
type Endpoint struct {
	host string
	port int
}

// New validates host and port and returns the corresponding Endpoint.
func New(host string, port int) (Endpoint, error) {
	if err := validation.Validate(host, validation.Required, is.Host); err != nil {
		return Endpoint{}, fmt.Errorf("%w: host %q: %v", ErrInvalidEndpoint, host, err)
	}

	if err := validation.Validate(port, validation.Required, validation.Min(1), validation.Max(65535)); err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %d: %v", ErrInvalidEndpoint, port, err)
	}

	return Endpoint{host: host, port: port}, nil
}

// Parse builds an Endpoint from a "host:port" string.
func Parse(address string) (Endpoint, error) {
	host, rawPort, err := net.SplitHostPort(address)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	port, err := strconv.Atoi(rawPort)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: port %q is not a number", ErrInvalidEndpoint, rawPort)
	}

	return New(host, port)
}

// Address returns the endpoint in a form accepted by net.Dial.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(e.port))
}

func (e Endpoint) String() string {
	return e.Address()
}
