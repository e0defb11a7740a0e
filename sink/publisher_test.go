package sink

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eegstream/internal/frame"
	"eegstream/internal/telemetry"
)

// scriptDriver records every send and fails according to its script.
type scriptDriver struct {
	mu       sync.Mutex
	attempts [][]byte
	failN   int           // first failN sends fail transiently
	permFor int           // attempt index (1-based) that fails permanently, 0 = never
	gate    chan struct{} // when set, Send blocks until the gate closes
	started chan struct{} // closed on first Send
	once     sync.Once
}

func (d *scriptDriver) Configure(any) error { return nil }

func (d *scriptDriver) Send(key, value []byte) error {
	d.once.Do(func() {
		if d.started != nil {
			close(d.started)
		}
	})
	if d.gate != nil {
		<-d.gate
	}
	d.mu.Lock()
	d.attempts = append(d.attempts, append([]byte(nil), value...))
	n := len(d.attempts)
	d.mu.Unlock()

	if d.permFor != 0 && n == d.permFor {
		return Permanent(errIntent)
	}
	if n <= d.failN {
		return Transient(errIntent)
	}
	return nil
}

func (d *scriptDriver) Close() error { return nil }

func (d *scriptDriver) sent() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.attempts...)
}

var errIntent = &intentionalError{}

type intentionalError struct{}

func (*intentionalError) Error() string { return "intentional failure" }

func fastRetry() RetryConfig {
	return RetryConfig{Initial: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond}
}

func newMetrics() *telemetry.Metrics {
	return telemetry.NewMetrics(prometheus.NewRegistry())
}

func mkFrame(firstSeq uint64, payload string) *frame.Frame {
	return &frame.Frame{Key: []byte("s"), Payload: []byte(payload), FirstSeq: firstSeq, Samples: 1}
}

func TestPublisher_RetrySameBytesNoReorder(t *testing.T) {
	drv := &scriptDriver{failN: 3}
	p := NewPublisher(drv, Config{QueueCapacity: 8, Retry: fastRetry()}, newMetrics())
	p.Start()

	ctx := context.Background()
	if err := p.Publish(ctx, mkFrame(0, "frame-A")); err != nil {
		t.Fatalf("Publish A: %v", err)
	}
	if err := p.Publish(ctx, mkFrame(1, "frame-B")); err != nil {
		t.Fatalf("Publish B: %v", err)
	}
	if lost := p.Drain(time.Second); lost != 0 {
		t.Fatalf("lost %d frames", lost)
	}

	attempts := drv.sent()
	if len(attempts) != 5 { // 3 failures + A success + B success
		t.Fatalf("want 5 attempts, got %d", len(attempts))
	}
	for i := 0; i < 4; i++ {
		if !bytes.Equal(attempts[i], []byte("frame-A")) {
			t.Fatalf("attempt %d: got %q, want frame-A", i, attempts[i])
		}
	}
	if !bytes.Equal(attempts[4], []byte("frame-B")) {
		t.Fatalf("frame-B sent out of order: %q", attempts[4])
	}

	st := p.Stats()
	if st.Sent != 2 || st.Acked != 2 || st.Retries != 3 {
		t.Fatalf("stats: %+v", st)
	}
}

func TestPublisher_ReconnectingVisibleDuringRetry(t *testing.T) {
	drv := &scriptDriver{failN: 50}
	p := NewPublisher(drv, Config{QueueCapacity: 4, Retry: RetryConfig{Initial: 20 * time.Millisecond, Factor: 1, Max: 20 * time.Millisecond}}, newMetrics())
	p.Start()

	if err := p.Publish(context.Background(), mkFrame(0, "x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for !p.Reconnecting() {
		if time.Now().After(deadline) {
			t.Fatal("publisher never entered reconnecting")
		}
		time.Sleep(time.Millisecond)
	}
	p.Drain(10 * time.Millisecond)
}

func TestPublisher_PermanentDropContinues(t *testing.T) {
	drv := &scriptDriver{permFor: 1}
	p := NewPublisher(drv, Config{QueueCapacity: 8, Retry: fastRetry()}, newMetrics())
	p.Start()

	ctx := context.Background()
	if err := p.Publish(ctx, mkFrame(0, "bad")); err != nil {
		t.Fatalf("Publish bad: %v", err)
	}
	if err := p.Publish(ctx, mkFrame(1, "good")); err != nil {
		t.Fatalf("Publish good: %v", err)
	}
	if lost := p.Drain(time.Second); lost != 0 {
		t.Fatalf("lost %d frames", lost)
	}

	st := p.Stats()
	if st.DroppedPermanent != 1 || st.Sent != 1 {
		t.Fatalf("stats: %+v", st)
	}
	attempts := drv.sent()
	if !bytes.Equal(attempts[len(attempts)-1], []byte("good")) {
		t.Fatal("good frame not delivered after permanent drop")
	}
}

func TestPublisher_DropOldestBoundsQueue(t *testing.T) {
	gate := make(chan struct{})
	drv := &scriptDriver{gate: gate, started: make(chan struct{})}
	const capacity = 4
	p := NewPublisher(drv, Config{QueueCapacity: capacity, Policy: PolicyDropOldest, Retry: fastRetry()}, newMetrics())
	p.Start()

	ctx := context.Background()
	if err := p.Publish(ctx, mkFrame(0, "f0")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	<-drv.started // first frame is now in flight, blocked in Send

	const produced = 10
	for i := 1; i < produced; i++ {
		if p.Backlog() > capacity {
			t.Fatalf("backlog %d exceeds capacity %d", p.Backlog(), capacity)
		}
		if err := p.Publish(ctx, mkFrame(uint64(i), "f")); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if p.Backlog() != capacity {
		t.Fatalf("backlog %d, want full queue %d", p.Backlog(), capacity)
	}

	st := p.Stats()
	wantDropped := uint64(produced - 1 - capacity) // one in flight, capacity queued
	if st.DroppedOverload != wantDropped {
		t.Fatalf("dropped %d, want %d", st.DroppedOverload, wantDropped)
	}

	close(gate)
	if lost := p.Drain(time.Second); lost != 0 {
		t.Fatalf("lost %d frames", lost)
	}
	if st := p.Stats(); st.Sent != uint64(1+capacity) {
		t.Fatalf("sent %d, want %d", st.Sent, 1+capacity)
	}
}

func TestPublisher_BlockPolicyHonorsContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	drv := &scriptDriver{gate: gate, started: make(chan struct{})}
	p := NewPublisher(drv, Config{QueueCapacity: 1, Policy: PolicyBlock, Retry: fastRetry()}, newMetrics())
	p.Start()

	ctx := context.Background()
	if err := p.Publish(ctx, mkFrame(0, "a")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	<-drv.started
	if err := p.Publish(ctx, mkFrame(1, "b")); err != nil { // fills the queue
		t.Fatalf("Publish: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Publish(shortCtx, mkFrame(2, "c")); err == nil {
		t.Fatal("expected context error on full queue under block policy")
	}
}

func TestPublisher_DrainTimeoutReportsLost(t *testing.T) {
	drv := &scriptDriver{failN: 1 << 30} // never succeeds
	p := NewPublisher(drv, Config{QueueCapacity: 8, Retry: RetryConfig{Initial: 5 * time.Millisecond, Factor: 1, Max: 5 * time.Millisecond}}, newMetrics())
	p.Start()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := p.Publish(ctx, mkFrame(uint64(i), "x")); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	lost := p.Drain(50 * time.Millisecond)
	if lost != 3 {
		t.Fatalf("lost %d, want 3", lost)
	}

	// No further sends once drain has given up.
	n := len(drv.sent())
	time.Sleep(30 * time.Millisecond)
	if m := len(drv.sent()); m != n {
		t.Fatalf("sends continued after drain: %d -> %d", n, m)
	}
}

func TestPublisher_CleanShutdownNoDuplicates(t *testing.T) {
	drv := &scriptDriver{}
	p := NewPublisher(drv, Config{QueueCapacity: 16, Retry: fastRetry()}, newMetrics())
	p.Start()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		payload, err := frame.Encode(1, 1, []frame.Sample{{Seq: uint64(i), TimestampMicros: int64(i + 1), Values: []float64{0}}})
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		f := &frame.Frame{Key: []byte("s"), Payload: payload, FirstSeq: uint64(i), Samples: 1}
		if err := p.Publish(ctx, f); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	if lost := p.Drain(time.Second); lost != 0 {
		t.Fatalf("lost %d frames", lost)
	}

	seen := map[uint64]int{}
	for _, payload := range drv.sent() {
		_, batch, err := frame.Decode(payload)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		seen[batch[0].Seq]++
	}
	if len(seen) != 10 {
		t.Fatalf("delivered %d distinct frames, want 10", len(seen))
	}
	for seq, n := range seen {
		if n != 1 {
			t.Fatalf("frame %d delivered %d times", seq, n)
		}
	}
}
