package eq

import (
	"math"
	"testing"
)

func TestNewDefaultsAreTransparentAtZeroDB(t *testing.T) {
	e := New()
	if !e.Enabled() {
		t.Fatal("expected EQ enabled by default")
	}
	l, r := e.Process(0.5, -0.25, 48000)
	if math.Abs(float64(l-0.5)) > 1e-4 || math.Abs(float64(r+0.25)) > 1e-4 {
		t.Fatalf("expected 0 dB default bands to pass samples through, got %v,%v", l, r)
	}
}

func TestSetBandParamsClamps(t *testing.T) {
	e := New()
	if !e.SetBandParams(0, BandParams{FrequencyHz: 999999, GainDB: 999, Q: 999, FilterType: Peak, Enabled: true}) {
		t.Fatal("expected band 0 to accept params")
	}
	st, ok := e.BandState(0)
	if !ok {
		t.Fatal("expected band 0 to exist")
	}
	if st.FrequencyHz != FreqMaxHz {
		t.Fatalf("frequency = %v, want clamp to %v", st.FrequencyHz, FreqMaxHz)
	}
	if st.GainDB != GainMaxDB {
		t.Fatalf("gain = %v, want clamp to %v", st.GainDB, GainMaxDB)
	}
	if st.Q != QMax {
		t.Fatalf("q = %v, want clamp to %v", st.Q, QMax)
	}
}

func TestSetBandParamsOutOfRange(t *testing.T) {
	e := New()
	if e.SetBandParams(4, BandParams{}) {
		t.Fatal("expected out-of-range band index to be rejected")
	}
	if _, ok := e.BandState(-1); ok {
		t.Fatal("expected negative band index to be rejected")
	}
}

func TestPeakBoostIncreasesLevelAtCenterFrequency(t *testing.T) {
	e := New()
	e.SetEnabled(true)
	for i := 0; i < e.BandCount(); i++ {
		e.SetBandParams(i, BandParams{FrequencyHz: 1000, Q: 1, FilterType: Peak, Enabled: i == 0})
	}
	e.SetBandParams(0, BandParams{FrequencyHz: 1000, GainDB: 12, Q: 1, FilterType: Peak, Enabled: true})

	const sampleRate = 48000.0
	var maxIn, maxOut float32
	for n := 0; n < 200; n++ {
		x := float32(math.Sin(2 * math.Pi * 1000 * float64(n) / sampleRate))
		if a := absf(x); a > maxIn {
			maxIn = a
		}
		y, _ := e.Process(x, x, sampleRate)
		if a := absf(y); a > maxOut {
			maxOut = a
		}
	}
	if maxOut <= maxIn {
		t.Fatalf("expected a +12 dB peak at the test tone's frequency to raise its amplitude, in=%v out=%v", maxIn, maxOut)
	}
}

func TestDisabledBandIsTransparent(t *testing.T) {
	e := New()
	e.SetBandParams(0, BandParams{FrequencyHz: 1000, GainDB: 12, Q: 1, FilterType: Peak, Enabled: false})
	for i := 1; i < e.BandCount(); i++ {
		e.SetBandParams(i, BandParams{FilterType: Peak, Enabled: false})
	}
	l, r := e.Process(0.3, -0.3, 48000)
	if math.Abs(float64(l-0.3)) > 1e-4 || math.Abs(float64(r+0.3)) > 1e-4 {
		t.Fatalf("expected disabled bands to pass through, got %v,%v", l, r)
	}
}

func TestSetEnabledBypassesWholeChain(t *testing.T) {
	e := New()
	e.SetBandParams(0, BandParams{FrequencyHz: 1000, GainDB: 12, Q: 1, FilterType: Peak, Enabled: true})
	e.SetEnabled(false)
	l, r := e.Process(0.3, -0.3, 48000)
	if l != 0.3 || r != -0.3 {
		t.Fatalf("expected disabled EQ to bypass entirely, got %v,%v", l, r)
	}
}

func TestFilterTypeRoundTripsThroughString(t *testing.T) {
	types := []FilterType{Peak, LowShelf, HighShelf, LowPass, HighPass, BandPass, Notch}
	for _, want := range types {
		got, ok := ParseFilterType(want.String())
		if !ok || got != want {
			t.Fatalf("round trip of %v failed: got %v, ok=%v", want, got, ok)
		}
	}
	if _, ok := ParseFilterType("not_a_real_filter"); ok {
		t.Fatal("expected unknown filter type string to be rejected")
	}
}

func TestResetClearsDelayLines(t *testing.T) {
	e := New()
	e.SetBandParams(0, BandParams{FrequencyHz: 1000, GainDB: 12, Q: 1, FilterType: Peak, Enabled: true})
	e.Process(1, 1, 48000)
	e.Reset()
	for _, b := range e.bands {
		if b.stateL != (biquadState{}) || b.stateR != (biquadState{}) {
			t.Fatal("expected Reset to zero every band's delay line")
		}
	}
}

func absf(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
