// Package relay copies bytes between two duplex streams, one goroutine per
// direction.
//
// The directions never wait on each other: a bulk download makes progress
// while the client is silent, and a client that streams without reading does
// not stall the backend. When either direction's source reaches end-of-stream
// the relay half-closes the destination so the peer observes EOF, then gives
// the opposite direction a grace period to finish before both streams are
// torn down. An I/O error stops the other direction immediately.
//
// The relay never inspects or alters payload bytes.
package relay
