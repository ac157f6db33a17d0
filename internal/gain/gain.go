// Package gain holds the one canonical fader-to-linear-gain conversion
// shared by channel strips and the master section. The original this port
// is grounded on computed the same curve twice — once via a dB round-trip
// in mixer/channel.rs::effective_gain, once as a direct square in
// audio/engine.rs::fader_to_gain — this consolidates both into a single
// closed-form implementation.
package gain

import "math"

// Unity is the fader position that produces 0 dB gain.
const Unity = 0.75

// FaderToGain converts a fader position to linear gain.
//
//	0                                        if f < 0.001
//	(f/0.75)^2                               if f <= 0.75
//	10^(((f-0.75)/0.5)*10/20)                 if 0.75 < f   (+10 dB at 1.25)
func FaderToGain(f float32) float32 {
	switch {
	case f < 0.001:
		return 0
	case f <= Unity:
		n := f / Unity
		return n * n
	default:
		db := (f - Unity) / 0.5 * 10
		return float32(math.Pow(10, float64(db)/20))
	}
}
