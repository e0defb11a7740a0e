package synth

import (
	"context"
	"math"
	"testing"

	"eegstream/source"
)

func TestSynth_ShapeAndMonotonicity(t *testing.T) {
	d := &driver{}
	err := d.Configure(source.Config{
		Channels:     4,
		SamplingRate: 256,
		Driver:       map[string]any{"pace": false, "amplitude": 10.0},
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer d.Close()

	ctx := context.Background()
	var lastTS int64
	for i := 0; i < 512; i++ {
		r, err := d.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if len(r.Values) != 4 {
			t.Fatalf("sample %d: %d channels", i, len(r.Values))
		}
		for ch, v := range r.Values {
			if math.Abs(v) > 10+1e-9 {
				t.Fatalf("sample %d ch %d: value %v exceeds amplitude", i, ch, v)
			}
		}
		if i > 0 && r.TimestampMicros <= lastTS {
			t.Fatalf("sample %d: timestamp %d not after %d", i, r.TimestampMicros, lastTS)
		}
		lastTS = r.TimestampMicros
	}
}

func TestSynth_RejectsBadSession(t *testing.T) {
	d := &driver{}
	if err := d.Configure(source.Config{Channels: 0, SamplingRate: 256}); err == nil {
		t.Fatal("expected error for zero channels")
	}
}
