package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBufferSize = 32 * 1024
	MinBufferSize     = 512
)

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O at once.
var aLongTimeAgo = time.Unix(1, 0)

// Stats counts the bytes moved by one Run call.
type Stats struct {
	BytesUp   int64 // client to backend
	BytesDown int64 // backend to client
}

// Relay is safe for concurrent use; each Run call owns its streams.
type Relay struct {
	grace   time.Duration
	buffers sync.Pool
}

// New returns a Relay using transfer buffers of bufferSize bytes per
// direction. grace bounds how long the second direction may keep running once
// the first has reached end-of-stream; zero stops it immediately.
func New(bufferSize int, grace time.Duration) *Relay {
	if bufferSize < MinBufferSize {
		bufferSize = DefaultBufferSize
	}
	if grace < 0 {
		grace = 0
	}

	r := &Relay{grace: grace}
	r.buffers.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}

	return r
}

// Run relays client<->upstream until both directions have stopped, then
// closes both streams. A nil error means every direction ended with a clean
// end-of-stream or was stopped by the relay itself.
func (r *Relay) Run(ctx context.Context, client, upstream net.Conn) (Stats, error) {
	defer client.Close()
	defer upstream.Close()

	var (
		stats Stats
		once  sync.Once
		g     errgroup.Group
	)

	stopOther := func(failed bool) {
		once.Do(func() {
			deadline := time.Now().Add(r.grace)
			if failed {
				deadline = aLongTimeAgo
			}
			_ = client.SetDeadline(deadline)
			_ = upstream.SetDeadline(deadline)
		})
	}

	cancelWatch := context.AfterFunc(ctx, func() {
		_ = client.SetDeadline(aLongTimeAgo)
		_ = upstream.SetDeadline(aLongTimeAgo)
	})
	defer cancelWatch()

	g.Go(func() error {
		n, err := r.pipe(upstream, client)
		stats.BytesUp = n
		closeWrite(upstream)
		stopOther(err != nil)
		if err != nil {
			return fmt.Errorf("client to backend: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		n, err := r.pipe(client, upstream)
		stats.BytesDown = n
		closeWrite(client)
		stopOther(err != nil)
		if err != nil {
			return fmt.Errorf("backend to client: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	return stats, err
}

// pipe copies src into dst through a pooled, fixed-size buffer. Endings the
// relay caused or expects are reported as nil.
func (r *Relay) pipe(dst, src net.Conn) (int64, error) {
	bufp := r.buffers.Get().(*[]byte)
	defer r.buffers.Put(bufp)

	n, err := io.CopyBuffer(dst, src, *bufp)
	if isClosure(err) {
		err = nil
	}

	return n, err
}

type closeWriter interface {
	CloseWrite() error
}

func closeWrite(c net.Conn) {
	if cw, ok := c.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}

func isClosure(err error) bool {
	if err == nil {
		return true
	}

	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded)
}
