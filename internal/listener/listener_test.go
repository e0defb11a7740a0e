package listener

import (
	"testing"
)

func TestDecodeResult(t *testing.T) {
	res, err := DecodeResult([]byte(`{"t": 1598918400.25, "v": ["pres", "0.93"]}`))
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if res.V[0] != "pres" {
		t.Fatalf("label: %q", res.V[0])
	}
	if res.T < 1598918400 || res.T > 1598918401 {
		t.Fatalf("timestamp: %v", res.T)
	}
}

func TestDecodeResult_Rejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "t=1,v=pres"},
		{"no labels", `{"t": 1, "v": []}`},
		{"missing v", `{"t": 1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeResult([]byte(tc.raw)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestReport_DoesNotPanicOnAnyLabel(t *testing.T) {
	for _, raw := range []string{
		`{"t": 1, "v": ["pres"]}`,
		`{"t": 1, "v": ["bckg"]}`,
		`{"t": 1, "v": ["wat"]}`,
		`garbage`,
	} {
		Report([]byte(raw))
	}
}
