// Package master implements the stereo master bus: oscillator, mono-sum,
// DIM, fader, soft-knee limiter, and peak/gain-reduction metering. Grounded
// on original_source/server/src/mixer/master.rs, ported to Go's
// sync/atomic (float fields stored as their bit pattern) in place of
// discrete AtomicU32/AtomicBool pairs.
package master

import (
	"math"
	"sync/atomic"

	"mixconsole/server/internal/eq"
	"mixconsole/server/internal/gain"
)

const (
	FaderMin = 0.0
	FaderMax = 1.0
	Unity    = 0.75

	DimMinDB = -40.0
	DimMaxDB = 0.0

	LimiterThresholdMinDB = -20.0
	LimiterThresholdMaxDB = 0.0

	LimiterRatioMin = 1.0
	LimiterRatioMax = 100.0

	OscFreqMin = 20.0
	OscFreqMax = 20000.0

	OscLevelMinDB = -60.0
	OscLevelMaxDB = 0.0
)

// Section is the stereo master bus. All mutable parameters are stored as
// atomics; the audio thread reads them with plain Load (Go gives no weaker
// ordering than sequential consistency, matching the relaxed
// requirement) and never blocks on a control-thread write.
type Section struct {
	faderBits atomic.Uint32
	muted     atomic.Bool

	dimEnabled atomic.Bool
	dimDBBits  atomic.Uint32

	monoSum atomic.Bool

	limiterEnabled     atomic.Bool
	limiterThreshBits  atomic.Uint32
	limiterRatioBits   atomic.Uint32

	oscEnabled   atomic.Bool
	oscFreqBits  atomic.Uint32
	oscLevelBits atomic.Uint32
	phase        float64 // owned by the audio thread only; not atomic

	eqSection *eq.ParametricEq

	// Read-only meter fields, written by the audio thread.
	peakLBits atomic.Uint32
	peakRBits atomic.Uint32
	grDBBits  atomic.Uint32
}

// New returns a master section at its default state: unity fader, DIM at
// -20 dB (disabled), limiter threshold 0 dB / ratio 4:1 (disabled),
// oscillator 1 kHz / -20 dB (disabled).
func New() *Section {
	s := &Section{}
	s.faderBits.Store(math.Float32bits(Unity))
	s.dimDBBits.Store(math.Float32bits(-20))
	s.limiterThreshBits.Store(math.Float32bits(0))
	s.limiterRatioBits.Store(math.Float32bits(4))
	s.oscFreqBits.Store(math.Float32bits(1000))
	s.oscLevelBits.Store(math.Float32bits(-20))
	s.eqSection = eq.New()
	return s
}

// EQ exposes the master bus's 4-band parametric equalizer.
func (s *Section) EQ() *eq.ParametricEq { return s.eqSection }

func loadF32(b *atomic.Uint32) float32        { return math.Float32frombits(b.Load()) }
func storeF32(b *atomic.Uint32, v float32)     { b.Store(math.Float32bits(v)) }
func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Section) Fader() float32 { return loadF32(&s.faderBits) }
func (s *Section) SetFader(v float32) float32 {
	v = clampF(v, FaderMin, FaderMax)
	storeF32(&s.faderBits, v)
	return v
}

func (s *Section) Muted() bool      { return s.muted.Load() }
func (s *Section) SetMute(m bool) bool { s.muted.Store(m); return m }

func (s *Section) DimEnabled() bool       { return s.dimEnabled.Load() }
func (s *Section) SetDimEnabled(e bool) bool { s.dimEnabled.Store(e); return e }

func (s *Section) DimDB() float32 { return loadF32(&s.dimDBBits) }
func (s *Section) SetDimDB(db float32) float32 {
	db = clampF(db, DimMinDB, DimMaxDB)
	storeF32(&s.dimDBBits, db)
	return db
}

func (s *Section) MonoSum() bool         { return s.monoSum.Load() }
func (s *Section) SetMonoSum(m bool) bool { s.monoSum.Store(m); return m }

func (s *Section) LimiterEnabled() bool          { return s.limiterEnabled.Load() }
func (s *Section) SetLimiterEnabled(e bool) bool { s.limiterEnabled.Store(e); return e }

func (s *Section) LimiterThresholdDB() float32 { return loadF32(&s.limiterThreshBits) }
func (s *Section) SetLimiterThresholdDB(db float32) float32 {
	db = clampF(db, LimiterThresholdMinDB, LimiterThresholdMaxDB)
	storeF32(&s.limiterThreshBits, db)
	return db
}

func (s *Section) LimiterRatio() float32 { return loadF32(&s.limiterRatioBits) }
func (s *Section) SetLimiterRatio(r float32) float32 {
	r = clampF(r, LimiterRatioMin, LimiterRatioMax)
	storeF32(&s.limiterRatioBits, r)
	return r
}

func (s *Section) OscEnabled() bool          { return s.oscEnabled.Load() }
func (s *Section) SetOscEnabled(e bool) bool { s.oscEnabled.Store(e); return e }

func (s *Section) OscFreq() float32 { return loadF32(&s.oscFreqBits) }
func (s *Section) SetOscFreq(hz float32) float32 {
	hz = clampF(hz, OscFreqMin, OscFreqMax)
	storeF32(&s.oscFreqBits, hz)
	return hz
}

func (s *Section) OscLevelDB() float32 { return loadF32(&s.oscLevelBits) }
func (s *Section) SetOscLevelDB(db float32) float32 {
	db = clampF(db, OscLevelMinDB, OscLevelMaxDB)
	storeF32(&s.oscLevelBits, db)
	return db
}

func (s *Section) PeakL() float32      { return loadF32(&s.peakLBits) }
func (s *Section) PeakR() float32      { return loadF32(&s.peakRBits) }
func (s *Section) GainReductionDB() float32 { return loadF32(&s.grDBBits) }

// State is a point-in-time snapshot of the master section, used by the
// websocket/REST control surfaces; the audio thread never sees this type.
type State struct {
	Fader              float32 `json:"fader"`
	Mute               bool    `json:"mute"`
	DimEnabled         bool    `json:"dim_enabled"`
	DimDB              float32 `json:"dim_db"`
	MonoSum            bool    `json:"mono_sum"`
	LimiterEnabled     bool    `json:"limiter_enabled"`
	LimiterThresholdDB float32 `json:"limiter_threshold_db"`
	LimiterRatio       float32 `json:"limiter_ratio"`
	OscEnabled         bool    `json:"osc_enabled"`
	OscFreq            float32 `json:"osc_freq"`
	OscLevelDB         float32 `json:"osc_level_db"`
	PeakL              float32        `json:"peak_l"`
	PeakR              float32        `json:"peak_r"`
	GainReductionDB    float32        `json:"gain_reduction_db"`
	EQEnabled          bool           `json:"eq_enabled"`
	EQBands            []eq.BandState `json:"eq_bands"`
}

// State returns a consistent-enough snapshot for display; no cross-field
// atomicity is guaranteed and none is needed here.
func (s *Section) State() State {
	return State{
		Fader:              s.Fader(),
		Mute:               s.Muted(),
		DimEnabled:         s.DimEnabled(),
		DimDB:              s.DimDB(),
		MonoSum:            s.MonoSum(),
		LimiterEnabled:     s.LimiterEnabled(),
		LimiterThresholdDB: s.LimiterThresholdDB(),
		LimiterRatio:       s.LimiterRatio(),
		OscEnabled:         s.OscEnabled(),
		OscFreq:            s.OscFreq(),
		OscLevelDB:         s.OscLevelDB(),
		PeakL:              s.PeakL(),
		PeakR:              s.PeakR(),
		GainReductionDB:    s.GainReductionDB(),
		EQEnabled:          s.eqSection.Enabled(),
		EQBands:            s.eqSection.State(),
	}
}

// EffectiveGain composes the master gain: mute, fader law, and DIM
// attenuation.
func (s *Section) EffectiveGain() float32 {
	if s.Muted() {
		return 0
	}
	g := gain.FaderToGain(s.Fader())
	if s.DimEnabled() {
		g *= float32(math.Pow(10, float64(s.DimDB())/20))
	}
	return g
}

// GenerateOscillatorSample returns the next oscillator sample (0 if
// disabled) and advances the persistent phase by freq/sampleRate mod 1.
// Must only be called from the audio thread — phase is not atomic.
func (s *Section) GenerateOscillatorSample(sampleRate float64) float32 {
	if !s.OscEnabled() {
		return 0
	}
	sample := math.Sin(2*math.Pi*s.phase) * math.Pow(10, float64(s.OscLevelDB())/20)
	s.phase += float64(s.OscFreq()) / sampleRate
	if s.phase >= 1 {
		s.phase -= math.Floor(s.phase)
	}
	return float32(sample)
}

// ApplyMono averages L and R in place when mono-sum is enabled.
func (s *Section) ApplyMono(l, r float32) (float32, float32) {
	if !s.MonoSum() {
		return l, r
	}
	sum := (l + r) / 2
	return sum, sum
}

// ApplyLimiter applies the soft-knee limiter independently to l and r if
// enabled, and records the peak/gain-reduction meters. When disabled, the
// samples pass through unchanged but peaks are still recorded (so meters
// stay meaningful with the limiter off).
func (s *Section) ApplyLimiter(l, r float32) (float32, float32) {
	maxIn := maxAbs(l, r)

	outL, outR := l, r
	if s.LimiterEnabled() {
		outL = limitSample(l, s.LimiterThresholdDB(), s.LimiterRatio())
		outR = limitSample(r, s.LimiterThresholdDB(), s.LimiterRatio())
	}

	maxOut := maxAbs(outL, outR)
	var grDB float32
	if maxIn > maxOut && maxOut > 0 {
		grDB = float32(20 * math.Log10(float64(maxOut)/float64(maxIn)))
	}
	storeF32(&s.grDBBits, grDB)
	storeF32(&s.peakLBits, float32(math.Abs(float64(outL))))
	storeF32(&s.peakRBits, float32(math.Abs(float64(outR))))

	return outL, outR
}

func limitSample(x float32, thresholdDB, ratio float32) float32 {
	thresholdLin := float32(math.Pow(10, float64(thresholdDB)/20))
	ax := float32(math.Abs(float64(x)))
	if ax <= thresholdLin {
		return x
	}
	compressed := thresholdLin + (ax-thresholdLin)/ratio
	if x < 0 {
		return -compressed
	}
	return compressed
}

func maxAbs(l, r float32) float32 {
	al, ar := float32(math.Abs(float64(l))), float32(math.Abs(float64(r)))
	if al > ar {
		return al
	}
	return ar
}

// Process runs the full per-sample stereo pipeline: oscillator mix-in,
// mono-sum, parametric EQ, master gain, limiter, and meter update.
// sampleRate is used for oscillator phase advance and, on its first use (or
// after a sample rate change), to derive the EQ's biquad coefficients.
func (s *Section) Process(l, r float32, sampleRate float64) (float32, float32) {
	osc := s.GenerateOscillatorSample(sampleRate)
	l += osc
	r += osc

	l, r = s.ApplyMono(l, r)

	l, r = s.eqSection.Process(l, r, sampleRate)

	gain := s.EffectiveGain()
	l *= gain
	r *= gain

	return s.ApplyLimiter(l, r)
}
