package source

import (
	"context"
	"sync"
)

// PushAdapter bridges callback-based device SDKs to the pull interface:
// the SDK's callback pushes readings into a small bounded buffer and
// Next pops from it. The buffer isolates the streaming loop from the
// SDK's native concurrency model.
//
// Push and Fail may be called from any goroutine; Next from one.
type PushAdapter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Reading
	cap    int
	failed error
	closed bool
	guard  MonotonicGuard
}

// NewPushAdapter returns an adapter holding at most capacity readings.
// When the buffer is full the oldest reading is overwritten; a device
// callback must never block.
func NewPushAdapter(capacity int) *PushAdapter {
	if capacity <= 0 {
		capacity = 64
	}
	p := &PushAdapter{cap: capacity}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Push hands one reading from the device callback to the buffer.
func (p *PushAdapter) Push(r Reading) {
	p.mu.Lock()
	if p.closed || p.failed != nil {
		p.mu.Unlock()
		return
	}
	if len(p.buf) == p.cap {
		p.buf = p.buf[1:]
	}
	p.buf = append(p.buf, r)
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Fail records a device failure. Pending and future Next calls return
// it immediately; readings still buffered are discarded, data from a
// broken device is suspect.
func (p *PushAdapter) Fail(err error) {
	p.mu.Lock()
	if p.failed == nil {
		p.failed = err
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// End marks a clean end of stream once the buffer drains.
func (p *PushAdapter) End() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *PushAdapter) Configure(Config) error { return nil }

func (p *PushAdapter) Next(ctx context.Context) (Reading, error) {
	stop := context.AfterFunc(ctx, p.cond.Broadcast)
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.failed != nil {
			return Reading{}, p.failed
		}
		if len(p.buf) > 0 {
			r := p.buf[0]
			p.buf = p.buf[1:]
			if err := p.guard.Check(r); err != nil {
				return Reading{}, err
			}
			return r, nil
		}
		if p.closed {
			return Reading{}, ErrEndOfStream
		}
		if err := ctx.Err(); err != nil {
			return Reading{}, err
		}
		p.cond.Wait()
	}
}

func (p *PushAdapter) Close() error {
	p.End()
	return nil
}
