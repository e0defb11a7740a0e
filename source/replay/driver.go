// Package replay streams a recorded EEG session from a CSV file as if
// a live device were producing it: one row per channel, one column per
// sample, paced at the configured sampling rate.
package replay

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"eegstream/source"
)

type Config struct {
	Path  string `yaml:"path"`
	Loop  bool   `yaml:"loop"`  // wrap around at EOF instead of ending
	Pace  bool   `yaml:"pace"`  // sleep between samples (default true)
	Comma string `yaml:"comma"` // field delimiter, default ","
}

type driver struct {
	cfg      Config
	channels int
	interval time.Duration

	// columns[i] is one full multi-channel sample.
	columns [][]float64
	cursor  int

	epoch  time.Time
	emitted int64
	ticker *time.Ticker
	guard  source.MonotonicGuard
}

func init() {
	source.Register("replay", func() source.Adapter { return &driver{} })
}

func (d *driver) Configure(sc source.Config) error {
	raw, err := yaml.Marshal(sc.Driver)
	if err != nil {
		return err
	}
	cfg := Config{Pace: true}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("replay: driver config: %w", err)
	}
	if cfg.Path == "" {
		return fmt.Errorf("replay: path is required")
	}
	if sc.SamplingRate <= 0 {
		return fmt.Errorf("replay: sampling rate %d invalid", sc.SamplingRate)
	}
	d.cfg = cfg
	d.channels = sc.Channels
	d.interval = time.Second / time.Duration(sc.SamplingRate)

	if err := d.load(); err != nil {
		return err
	}
	if cfg.Pace {
		d.ticker = time.NewTicker(d.interval)
	}
	d.epoch = time.Now()
	return nil
}

// load parses the recording. Layout follows the usual EEG dump
// orientation: row i holds every value of channel i over time.
func (d *driver) load() error {
	f, err := os.Open(d.cfg.Path)
	if err != nil {
		return source.Errf(source.KindDisconnected, "open recording: %v", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	if d.cfg.Comma != "" {
		r.Comma = rune(d.cfg.Comma[0])
	}
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return source.Errf(source.KindMalformed, "parse recording: %v", err)
	}
	if len(rows) != d.channels {
		return source.Errf(source.KindMalformed,
			"recording has %d channel rows, session configured for %d", len(rows), d.channels)
	}
	width := len(rows[0])
	if width == 0 {
		return source.Errf(source.KindMalformed, "recording is empty")
	}

	d.columns = make([][]float64, width)
	for i := range d.columns {
		d.columns[i] = make([]float64, d.channels)
	}
	for ch, row := range rows {
		if len(row) != width {
			return source.Errf(source.KindMalformed,
				"channel row %d has %d samples, row 0 has %d", ch, len(row), width)
		}
		for i, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return source.Errf(source.KindMalformed, "row %d col %d: %v", ch, i, err)
			}
			d.columns[i][ch] = v
		}
	}
	return nil
}

func (d *driver) Next(ctx context.Context) (source.Reading, error) {
	if d.cursor >= len(d.columns) {
		if !d.cfg.Loop {
			return source.Reading{}, source.ErrEndOfStream
		}
		d.cursor = 0
	}

	if d.ticker != nil {
		select {
		case <-ctx.Done():
			return source.Reading{}, ctx.Err()
		case <-d.ticker.C:
		}
	}

	vals := make([]float64, d.channels)
	copy(vals, d.columns[d.cursor])
	d.cursor++

	r := source.Reading{
		TimestampMicros: d.epoch.UnixMicro() + d.emitted*d.interval.Microseconds(),
		Values:          vals,
	}
	d.emitted++
	if err := d.guard.Check(r); err != nil {
		return source.Reading{}, err
	}
	return r, nil
}

func (d *driver) Close() error {
	if d.ticker != nil {
		d.ticker.Stop()
	}
	return nil
}
