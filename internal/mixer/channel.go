// Package mixer implements the shared mixer state: channels, the routing
// matrix, and the aggregate Mixer that the audio engine reads from the
// real-time callback and control surfaces mutate from ordinary goroutines.
package mixer

import (
	"math"
	"sync/atomic"

	"mixconsole/server/internal/gain"
)

// Fader range. 0.75 denotes unity (0 dB); 1.25 is the top of the range
// (+10 dB of make-up gain above unity).
const (
	FaderMin = 0.0
	FaderMax = 1.25
	Unity    = 0.75

	PanMin = -1.0
	PanMax = 1.0

	TrimMinDB = -20.0
	TrimMaxDB = 20.0

	meterRelease = 0.95
)

// Channel holds one input strip's parameters plus an atomic peak meter.
// Parameter fields are stored as atomics so the audio thread can read them
// with Load (Relaxed equivalent — Go gives no weaker ordering) without ever
// blocking on a control-thread mutation. Meter fields follow the same
// discipline in the other direction: written by the audio thread, read by
// control surfaces.
type Channel struct {
	id   uint32
	name atomic.Value // string

	faderBits atomic.Uint32 // math.Float32bits
	panBits   atomic.Uint32
	trimBits  atomic.Uint32

	muted       atomic.Bool
	solo        atomic.Bool
	phaseInvert atomic.Bool

	color atomic.Value // string

	meterBits     atomic.Uint32 // current peak, 0..1
	peakHoldBits  atomic.Uint32 // max since last reset
}

// NewChannel constructs a channel at its default state: unity fader, centre
// pan, 0 dB trim, unmuted, no solo, no phase invert.
func NewChannel(id uint32, name string) *Channel {
	c := &Channel{id: id}
	c.name.Store(name)
	c.color.Store("")
	c.faderBits.Store(math.Float32bits(Unity))
	c.panBits.Store(math.Float32bits(0))
	c.trimBits.Store(math.Float32bits(0))
	return c
}

// ID returns the channel's stable 0-based index.
func (c *Channel) ID() uint32 { return c.id }

// State is an immutable snapshot of one channel, suitable for marshaling to
// clients or returning from a setter.
type State struct {
	ID          uint32  `json:"id"`
	Name        string  `json:"name"`
	Fader       float32 `json:"fader"`
	Mute        bool    `json:"mute"`
	Solo        bool    `json:"solo"`
	Pan         float32 `json:"pan"`
	Gain        float32 `json:"gain"`
	PhaseInvert bool    `json:"phase_invert"`
	Color       string  `json:"color"`
	Meter       float32 `json:"meter"`
	PeakHold    float32 `json:"peak_hold"`
}

// State returns a consistent-enough snapshot of this channel. No cross-field atomicity is guaranteed;
// there is no cross-field atomicity guarantee; this is acceptable because
// control changes are perceptually slow compared to one sample period.
func (c *Channel) State() State {
	return State{
		ID:          c.id,
		Name:        c.Name(),
		Fader:       c.Fader(),
		Mute:        c.muted.Load(),
		Solo:        c.solo.Load(),
		Pan:         c.Pan(),
		Gain:        c.Trim(),
		PhaseInvert: c.phaseInvert.Load(),
		Color:       c.Color(),
		Meter:       c.Meter(),
		PeakHold:    c.PeakHold(),
	}
}

func (c *Channel) Name() string  { v, _ := c.name.Load().(string); return v }
func (c *Channel) Color() string { v, _ := c.color.Load().(string); return v }

func (c *Channel) SetName(name string)   { c.name.Store(name) }
func (c *Channel) SetColor(color string) { c.color.Store(color) }

func (c *Channel) Fader() float32 { return math.Float32frombits(c.faderBits.Load()) }
func (c *Channel) Pan() float32   { return math.Float32frombits(c.panBits.Load()) }
func (c *Channel) Trim() float32  { return math.Float32frombits(c.trimBits.Load()) }

// SetFader clamps to [FaderMin, FaderMax] and stores atomically.
func (c *Channel) SetFader(v float32) float32 {
	v = clamp(v, FaderMin, FaderMax)
	c.faderBits.Store(math.Float32bits(v))
	return v
}

// SetPan clamps to [PanMin, PanMax].
func (c *Channel) SetPan(v float32) float32 {
	v = clamp(v, PanMin, PanMax)
	c.panBits.Store(math.Float32bits(v))
	return v
}

// SetTrim clamps to [TrimMinDB, TrimMaxDB] dB.
func (c *Channel) SetTrim(db float32) float32 {
	db = clamp(db, TrimMinDB, TrimMaxDB)
	c.trimBits.Store(math.Float32bits(db))
	return db
}

func (c *Channel) Muted() bool { return c.muted.Load() }
func (c *Channel) Solo() bool  { return c.solo.Load() }
func (c *Channel) Phase() bool { return c.phaseInvert.Load() }

func (c *Channel) SetMute(m bool) bool  { c.muted.Store(m); return m }
func (c *Channel) SetSolo(s bool) bool  { c.solo.Store(s); return s }
func (c *Channel) SetPhase(p bool) bool { c.phaseInvert.Store(p); return p }

// FaderToGain converts a fader position to linear gain; see internal/gain
// for the canonical three-segment law.
func FaderToGain(f float32) float32 { return gain.FaderToGain(f) }

// EffectiveGain returns the per-sample scalar gain for this channel,
// combining mute, fader law, trim, and phase invert.
func (c *Channel) EffectiveGain() float32 {
	if c.Muted() {
		return 0
	}
	g := FaderToGain(c.Fader())
	g *= float32(math.Pow(10, float64(c.Trim())/20))
	if c.Phase() {
		g = -g
	}
	return g
}

// StereoGains applies the constant-power pan law to EffectiveGain, returning
// (left, right).
func (c *Channel) StereoGains() (float32, float32) {
	gain := c.EffectiveGain()
	angle := float64(c.Pan()+1) * math.Pi / 4
	l := float32(math.Cos(angle)) * gain
	r := float32(math.Sin(angle)) * gain
	return l, r
}

// Meter returns the current peak reading (0..1).
func (c *Channel) Meter() float32 { return math.Float32frombits(c.meterBits.Load()) }

// PeakHold returns the maximum peak observed since the last ResetPeakHold.
func (c *Channel) PeakHold() float32 { return math.Float32frombits(c.peakHoldBits.Load()) }

// UpdateMeter applies instantaneous attack / 0.95-per-call release ballistics
// and updates the peak-hold. Called from the audio thread; Relaxed-atomic
// discipline, no locks.
func (c *Channel) UpdateMeter(peak float32) {
	cur := c.Meter()
	var next float32
	if peak > cur {
		next = peak
	} else {
		next = cur * meterRelease
	}
	c.meterBits.Store(math.Float32bits(next))

	hold := c.PeakHold()
	if peak > hold {
		c.peakHoldBits.Store(math.Float32bits(peak))
	}
}

// ResetPeakHold clears the peak-hold back to zero.
func (c *Channel) ResetPeakHold() {
	c.peakHoldBits.Store(math.Float32bits(0))
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
