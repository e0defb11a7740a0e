package sink

import (
	"context"
	"sync/atomic"
	"time"

	"eegstream/internal/frame"
	"eegstream/internal/logging"
	"eegstream/internal/telemetry"
)

// Policy is the overload rule applied when the frame queue is full.
type Policy string

const (
	PolicyBlock      Policy = "block"       // bounded latency: the loop waits
	PolicyDropOldest Policy = "drop_oldest" // bounded memory: oldest frame is dropped
)

// RetryConfig parameterizes the capped exponential backoff applied to
// transient send failures. Retries are unlimited; only shutdown stops
// them.
type RetryConfig struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

type Config struct {
	QueueCapacity int
	Policy        Policy
	Retry         RetryConfig
}

// Stats is the delivery accounting reported at session end.
type Stats struct {
	Enqueued         uint64
	Sent             uint64
	Acked            uint64
	DroppedOverload  uint64
	DroppedPermanent uint64
	Retries          uint64
	Lost             uint64
}

// Publisher owns the bounded queue between the streaming loop and the
// broker driver, and the single goroutine that drains it. Frames leave
// in submission order; a frame that fails transiently is resent before
// any later frame.
type Publisher struct {
	drv     Driver
	cfg     Config
	metrics *telemetry.Metrics

	queue chan *frame.Frame
	done  chan struct{} // publishing goroutine exited
	abort chan struct{} // drain deadline hit: stop retrying

	reconnecting atomic.Bool
	aborted      atomic.Bool

	enqueued        atomic.Uint64
	sent            atomic.Uint64
	droppedOverload atomic.Uint64
	droppedPerm     atomic.Uint64
	retries         atomic.Uint64
	lost            atomic.Uint64
}

func NewPublisher(drv Driver, cfg Config, m *telemetry.Metrics) *Publisher {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 64
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyBlock
	}
	if cfg.Retry.Initial <= 0 {
		cfg.Retry.Initial = 500 * time.Millisecond
	}
	if cfg.Retry.Factor < 1 {
		cfg.Retry.Factor = 2
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = 30 * time.Second
	}
	return &Publisher{
		drv:     drv,
		cfg:     cfg,
		metrics: m,
		queue:   make(chan *frame.Frame, cfg.QueueCapacity),
		done:    make(chan struct{}),
		abort:   make(chan struct{}),
	}
}

// Start launches the publishing goroutine. Call once.
func (p *Publisher) Start() {
	go p.run()
}

// Publish enqueues one frame, applying the overload policy when the
// queue is full. Only the streaming loop calls it, and never after
// Drain. Under PolicyBlock a full queue blocks until space frees or
// ctx is done; under PolicyDropOldest the oldest queued frame is
// discarded to make room.
func (p *Publisher) Publish(ctx context.Context, f *frame.Frame) error {
	if p.cfg.Policy == PolicyDropOldest {
		for {
			select {
			case p.queue <- f:
				p.enqueued.Add(1)
				p.metrics.QueueDepth.Set(float64(len(p.queue)))
				return nil
			default:
			}
			select {
			case old := <-p.queue:
				p.droppedOverload.Add(1)
				p.metrics.FramesDropped.WithLabelValues("overload").Inc()
				logging.L().Warn("queue full, dropped oldest frame", "first_seq", old.FirstSeq)
			default:
				// Publisher consumed it first; retry the send.
			}
		}
	}

	select {
	case p.queue <- f:
		p.enqueued.Add(1)
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backlog is the aggregate queue occupancy; the loop's only window
// into delivery state.
func (p *Publisher) Backlog() int { return len(p.queue) }

// Reconnecting reports whether the last send failed transiently and
// the backoff loop is still working on it.
func (p *Publisher) Reconnecting() bool { return p.reconnecting.Load() }

func (p *Publisher) Stats() Stats {
	return Stats{
		Enqueued:         p.enqueued.Load(),
		Sent:             p.sent.Load(),
		Acked:            p.sent.Load(),
		DroppedOverload:  p.droppedOverload.Load(),
		DroppedPermanent: p.droppedPerm.Load(),
		Retries:          p.retries.Load(),
		Lost:             p.lost.Load(),
	}
}

// Drain closes the queue and waits up to timeout for the publishing
// goroutine to flush it. Frames still undelivered at the deadline are
// counted lost, not retried further. Returns the number lost.
func (p *Publisher) Drain(timeout time.Duration) int {
	close(p.queue)
	select {
	case <-p.done:
	case <-time.After(timeout):
		p.aborted.Store(true)
		close(p.abort)
		<-p.done
	}
	lost := int(p.lost.Load())
	return lost
}

func (p *Publisher) Close() error {
	return p.drv.Close()
}

/*──────── publishing goroutine ───────*/

func (p *Publisher) run() {
	defer close(p.done)
	for f := range p.queue {
		p.metrics.QueueDepth.Set(float64(len(p.queue)))
		p.send(f)
	}
}

// send delivers one frame, retrying transient failures with capped
// exponential backoff until success, a permanent classification, or
// the drain deadline.
func (p *Publisher) send(f *frame.Frame) {
	delay := p.cfg.Retry.Initial
	for {
		if p.aborted.Load() {
			p.lost.Add(1)
			p.metrics.FramesLost.Inc()
			return
		}

		err := p.drv.Send(f.Key, f.Payload)
		if err == nil {
			p.reconnecting.Store(false)
			p.sent.Add(1)
			p.metrics.FramesSent.Inc()
			p.metrics.FramesAcked.Inc()
			return
		}
		if IsPermanent(err) {
			p.reconnecting.Store(false)
			p.droppedPerm.Add(1)
			p.metrics.FramesDropped.WithLabelValues("permanent").Inc()
			logging.L().Error("frame dropped", "first_seq", f.FirstSeq, "err", err)
			return
		}

		p.reconnecting.Store(true)
		p.retries.Add(1)
		p.metrics.PublishRetries.Inc()
		logging.L().Warn("publish failed, retrying", "first_seq", f.FirstSeq, "delay", delay, "err", err)

		select {
		case <-p.abort:
			p.lost.Add(1)
			p.metrics.FramesLost.Inc()
			return
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.cfg.Retry.Factor)
		if delay > p.cfg.Retry.Max {
			delay = p.cfg.Retry.Max
		}
	}
}
