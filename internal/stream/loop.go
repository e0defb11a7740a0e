// Package stream drives the session: it pulls samples from the device
// adapter at the sampling rate, assigns sequence numbers, batches,
// encodes, and hands frames to the publisher.
package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"eegstream/internal/frame"
	"eegstream/internal/logging"
	"eegstream/internal/telemetry"
	"eegstream/sink"
	"eegstream/source"
)

// State is the loop's lifecycle position. Reconnecting is reported
// while Running whenever the publisher's backoff loop is working on a
// failed send.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateReconnecting
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Config struct {
	SessionID    uint64
	Key          []byte
	Channels     int
	BatchSize    int
	BatchWindow  time.Duration
	DrainTimeout time.Duration
}

// Loop is the session state machine. One per session; Run once.
type Loop struct {
	src     source.Adapter
	pub     *sink.Publisher
	cfg     Config
	metrics *telemetry.Metrics

	state   atomic.Int32
	nextSeq uint64
	pulled  uint64
	encoded uint64
	lost    int
}

func New(src source.Adapter, pub *sink.Publisher, cfg Config, m *telemetry.Metrics) *Loop {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	return &Loop{src: src, pub: pub, cfg: cfg, metrics: m}
}

func (l *Loop) State() State {
	s := State(l.state.Load())
	if s == StateRunning && l.pub.Reconnecting() {
		return StateReconnecting
	}
	return s
}

// SamplesPulled is the count of sequence numbers assigned so far.
func (l *Loop) SamplesPulled() uint64 { return atomic.LoadUint64(&l.pulled) }

// Lost is the number of frames undelivered when the drain deadline
// elapsed; valid after Run returns.
func (l *Loop) Lost() int { return l.lost }

// Run executes the session until shutdown (ctx cancelled), the source
// ends, or a fatal error. Device and encoding errors are fatal and
// returned after draining; publisher failures are absorbed by the
// retry loop and never surface here.
func (l *Loop) Run(ctx context.Context) error {
	l.state.Store(int32(StateStarting))
	l.pub.Start()
	l.state.Store(int32(StateRunning))
	logging.L().Info("session running",
		"session", l.cfg.SessionID, "batch_size", l.cfg.BatchSize, "batch_window", l.cfg.BatchWindow)

	var (
		batch   = make([]frame.Sample, 0, l.cfg.BatchSize)
		flushAt = time.Now().Add(l.cfg.BatchWindow)
	)

	for {
		if ctx.Err() != nil {
			break // shutdown requested
		}

		pullCtx, cancel := context.WithDeadline(ctx, flushAt)
		r, err := l.src.Next(pullCtx)
		cancel()

		switch {
		case err == nil:
			s := frame.Sample{
				Seq:             l.nextSeq,
				TimestampMicros: r.TimestampMicros,
				Values:          r.Values,
			}
			l.nextSeq++
			atomic.AddUint64(&l.pulled, 1)
			l.metrics.SamplesPulled.Inc()
			batch = append(batch, s)
			if len(batch) < l.cfg.BatchSize && time.Now().Before(flushAt) {
				continue
			}

		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			if ctx.Err() != nil {
				continue // shutdown observed at the pull boundary
			}
			// Batch window expired with the device idle.

		case errors.Is(err, source.ErrEndOfStream):
			logging.L().Info("source ended", "samples", l.nextSeq)
			return l.drain(ctx, batch, nil)

		default:
			logging.L().Error("device failure", "err", err, "samples", l.nextSeq)
			return l.drain(ctx, batch, err)
		}

		if len(batch) > 0 {
			if err := l.flush(ctx, batch); err != nil {
				return l.drain(ctx, nil, err)
			}
			batch = batch[:0]
		}
		flushAt = time.Now().Add(l.cfg.BatchWindow)
	}

	return l.drain(ctx, batch, nil)
}

// flush encodes one batch and hands it to the publisher under the
// configured overload policy. Encoding faults are fatal.
func (l *Loop) flush(ctx context.Context, batch []frame.Sample) error {
	payload, err := frame.Encode(l.cfg.SessionID, l.cfg.Channels, batch)
	if err != nil {
		return err
	}
	l.encoded++
	l.metrics.FramesEncoded.Inc()

	f := &frame.Frame{
		Key:      l.cfg.Key,
		Payload:  payload,
		FirstSeq: batch[0].Seq,
		Samples:  len(batch),
	}
	if err := l.pub.Publish(ctx, f); err != nil {
		// Shutdown arrived while blocked on a full queue; give the
		// frame one last chance during the drain window.
		drainCtx, cancel := context.WithTimeout(context.Background(), l.cfg.DrainTimeout)
		defer cancel()
		if err := l.pub.Publish(drainCtx, f); err != nil {
			l.lost++
			l.metrics.FramesLost.Inc()
			logging.L().Warn("frame not enqueued before shutdown", "first_seq", f.FirstSeq)
		}
	}
	return nil
}

// drain stops acquisition, flushes whatever is batched and queued
// within the drain timeout, releases both handles, and reports.
func (l *Loop) drain(ctx context.Context, batch []frame.Sample, fatal error) error {
	l.state.Store(int32(StateDraining))
	logging.L().Info("draining", "queued", l.pub.Backlog(), "batched", len(batch))

	if len(batch) > 0 {
		if err := l.flush(ctx, batch); err != nil && fatal == nil {
			fatal = err
		}
	}

	l.lost += l.pub.Drain(l.cfg.DrainTimeout)

	if err := l.src.Close(); err != nil {
		logging.L().Warn("source close", "err", err)
	}
	if err := l.pub.Close(); err != nil {
		logging.L().Warn("publisher close", "err", err)
	}

	l.state.Store(int32(StateStopped))
	st := l.pub.Stats()
	logging.L().Info("session stopped",
		"samples", l.nextSeq,
		"frames_encoded", l.encoded,
		"frames_sent", st.Sent,
		"frames_acked", st.Acked,
		"frames_dropped", st.DroppedOverload+st.DroppedPermanent,
		"frames_lost", l.lost,
		"retries", st.Retries,
	)
	return fatal
}
