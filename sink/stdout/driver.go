// Package stdout is a debug broker driver: it prints a one-line
// summary of each frame instead of publishing it. Handy for eyeballing
// a session without a broker.
package stdout

import (
	"fmt"
	"sync/atomic"
	"time"

	"eegstream/internal/frame"
	"eegstream/sink"
)

type Config struct {
	DelayMS      int  `yaml:"delay_ms"`      // artificial per-frame delay
	PrintCounter bool `yaml:"print_counter"` // prepend seq#
}

type driver struct {
	cfg Config
}

var seq uint64

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	return nil
}

func (d *driver) Send(key, value []byte) error {
	if d.cfg.DelayMS > 0 {
		time.Sleep(time.Duration(d.cfg.DelayMS) * time.Millisecond)
	}

	summary := fmt.Sprintf("%d bytes (undecodable)", len(value))
	if sid, batch, err := frame.Decode(value); err == nil {
		summary = fmt.Sprintf("session %#x seq %d..%d (%d samples)",
			sid, batch[0].Seq, batch[len(batch)-1].Seq, len(batch))
	}

	if d.cfg.PrintCounter {
		fmt.Printf("[sink %06d] key=%s %s\n", atomic.AddUint64(&seq, 1), key, summary)
	} else {
		fmt.Printf("[sink] key=%s %s\n", key, summary)
	}
	return nil
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Driver { return &driver{} })
}
