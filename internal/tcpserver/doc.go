// Package tcpserver accepts client connections and hands each one to its own
// goroutine, so no single session can delay the next Accept.
//
// Accept errors are classified: a listener that is closed or no longer a
// valid socket ends Serve with an error, everything else (descriptor
// exhaustion, aborted handshakes) is logged and retried with a capped
// exponential backoff. Concurrency is unbounded unless WithMaxSessions is
// given, in which case Serve stops calling Accept while the limit is reached
// and new clients wait in the kernel backlog.
package tcpserver
