// Package synth generates a deterministic multi-channel sine signal.
// Useful for demos and wiring tests when no recording or device is at
// hand; registered beside the real drivers.
package synth

import (
	"context"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"eegstream/source"
)

type Config struct {
	FrequencyHz float64 `yaml:"frequency_hz"` // base tone, default 10 (alpha band)
	Amplitude   float64 `yaml:"amplitude"`    // peak value, default 50
	Pace        bool    `yaml:"pace"`         // sleep between samples (default true)
}

type driver struct {
	cfg      Config
	channels int
	interval time.Duration

	n      int64
	epoch  time.Time
	ticker *time.Ticker
}

func init() {
	source.Register("synth", func() source.Adapter { return &driver{} })
}

func (d *driver) Configure(sc source.Config) error {
	raw, err := yaml.Marshal(sc.Driver)
	if err != nil {
		return err
	}
	cfg := Config{FrequencyHz: 10, Amplitude: 50, Pace: true}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("synth: driver config: %w", err)
	}
	if sc.Channels <= 0 || sc.SamplingRate <= 0 {
		return fmt.Errorf("synth: need positive channels and sampling rate")
	}
	d.cfg = cfg
	d.channels = sc.Channels
	d.interval = time.Second / time.Duration(sc.SamplingRate)
	if cfg.Pace {
		d.ticker = time.NewTicker(d.interval)
	}
	d.epoch = time.Now()
	return nil
}

func (d *driver) Next(ctx context.Context) (source.Reading, error) {
	if d.ticker != nil {
		select {
		case <-ctx.Done():
			return source.Reading{}, ctx.Err()
		case <-d.ticker.C:
		}
	}

	t := float64(d.n) * d.interval.Seconds()
	vals := make([]float64, d.channels)
	for ch := range vals {
		// Each channel gets a phase offset so they are distinguishable.
		phase := 2 * math.Pi * float64(ch) / float64(d.channels)
		vals[ch] = d.cfg.Amplitude * math.Sin(2*math.Pi*d.cfg.FrequencyHz*t+phase)
	}

	r := source.Reading{
		TimestampMicros: d.epoch.UnixMicro() + d.n*d.interval.Microseconds(),
		Values:          vals,
	}
	d.n++
	return r, nil
}

func (d *driver) Close() error {
	if d.ticker != nil {
		d.ticker.Stop()
	}
	return nil
}
