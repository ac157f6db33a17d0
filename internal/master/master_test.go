package master

import (
	"math"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	s := New()
	if s.Fader() != Unity {
		t.Fatalf("expected default fader %v, got %v", Unity, s.Fader())
	}
	if s.Muted() || s.DimEnabled() || s.LimiterEnabled() || s.OscEnabled() {
		t.Fatal("expected all toggles false by default")
	}
}

func TestSetFaderClamps(t *testing.T) {
	s := New()
	if v := s.SetFader(5); v != FaderMax {
		t.Fatalf("SetFader(5) = %v, want %v", v, FaderMax)
	}
	if v := s.SetFader(-1); v != FaderMin {
		t.Fatalf("SetFader(-1) = %v, want %v", v, FaderMin)
	}
}

func TestDimAttenuation(t *testing.T) {
	s := New()
	s.SetDimDB(-20)
	s.SetDimEnabled(true)
	g := s.EffectiveGain()
	want := float32(math.Pow(10, -20.0/20)) // unity fader => gain 1 * dim
	if math.Abs(float64(g-want)) > 1e-4 {
		t.Fatalf("dim gain = %v, want %v", g, want)
	}
}

func TestMuteOverridesEverything(t *testing.T) {
	s := New()
	s.SetMute(true)
	s.SetDimEnabled(true)
	if g := s.EffectiveGain(); g != 0 {
		t.Fatalf("muted gain = %v, want 0", g)
	}
}

func TestOscillatorGeneratesAndAdvancesPhase(t *testing.T) {
	s := New()
	s.SetOscEnabled(true)
	s.SetOscFreq(1000)
	s.SetOscLevelDB(0)
	first := s.GenerateOscillatorSample(48000)
	if first != 0 {
		t.Fatalf("expected first sample at phase 0 to be sin(0)=0, got %v", first)
	}
	second := s.GenerateOscillatorSample(48000)
	if second == 0 {
		t.Fatal("expected phase to have advanced, producing a non-zero sample")
	}
}

func TestApplyMonoAverages(t *testing.T) {
	s := New()
	s.SetMonoSum(true)
	l, r := s.ApplyMono(1.0, -1.0)
	if l != 0 || r != 0 {
		t.Fatalf("expected mono sum of 1,-1 to be 0,0; got %v,%v", l, r)
	}
}

func TestLimiterSoftKnee(t *testing.T) {
	s := New()
	s.SetLimiterEnabled(true)
	s.SetLimiterThresholdDB(-6) // ~0.501 linear
	s.SetLimiterRatio(4)

	l, r := s.ApplyLimiter(1.0, 1.0)
	if l >= 1.0 || r >= 1.0 {
		t.Fatalf("expected limiter to reduce peaks above threshold, got %v,%v", l, r)
	}
	if s.GainReductionDB() >= 0 {
		t.Fatalf("expected negative gain reduction, got %v", s.GainReductionDB())
	}
}

func TestLimiterPassthroughBelowThreshold(t *testing.T) {
	s := New()
	s.SetLimiterEnabled(true)
	s.SetLimiterThresholdDB(0) // threshold = 1.0 linear
	l, r := s.ApplyLimiter(0.1, -0.1)
	if l != 0.1 || r != -0.1 {
		t.Fatalf("expected passthrough below threshold, got %v,%v", l, r)
	}
	if s.GainReductionDB() != 0 {
		t.Fatalf("expected 0 dB gain reduction below threshold, got %v", s.GainReductionDB())
	}
}

func TestProcessPipelineRuns(t *testing.T) {
	s := New()
	l, _ := s.Process(0.5, -0.5, 48000)
	if math.Abs(float64(l-0.5)) > 1e-4 {
		t.Fatalf("process L = %v, want ~0.5 (unity fader, no dim/limiter/mono)", l)
	}
}
