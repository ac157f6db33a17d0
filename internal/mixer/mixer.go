package mixer

import (
	"strconv"
	"sync"
)

// Mixer aggregates channels and the routing matrix and presents the
// authoritative mixer state. The channel count never changes
// after construction and channel.id == index, so the channel slice itself
// needs no lock — only the solo-set bookkeeping does.
type Mixer struct {
	channels    []*Channel
	routing     *RoutingMatrix
	inputCount  int
	outputCount int

	soloMu     sync.Mutex
	soloActive map[uint32]struct{}
}

// New constructs a mixer with inputCount channels named "CH 1".."CH N" and
// an inputCount x outputCount routing matrix with identity defaults.
func New(inputCount, outputCount int) *Mixer {
	channels := make([]*Channel, inputCount)
	for i := range channels {
		channels[i] = NewChannel(uint32(i), channelName(i))
	}
	return &Mixer{
		channels:    channels,
		routing:     NewRoutingMatrix(inputCount, outputCount),
		inputCount:  inputCount,
		outputCount: outputCount,
		soloActive:  make(map[uint32]struct{}),
	}
}

func channelName(i int) string {
	return "CH " + strconv.Itoa(i+1)
}

func (m *Mixer) InputCount() int  { return m.inputCount }
func (m *Mixer) OutputCount() int { return m.outputCount }

// GetChannel returns the channel's snapshot, or false if id is out of range.
func (m *Mixer) GetChannel(id uint32) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	return c.State(), true
}

// channel returns the underlying *Channel (not a snapshot) for internal use
// by the audio engine's real-time path.
func (m *Mixer) Channel(id uint32) *Channel { return m.channel(id) }

func (m *Mixer) channel(id uint32) *Channel {
	if int(id) >= len(m.channels) {
		return nil
	}
	return m.channels[id]
}

// GetAllChannels returns a snapshot of every channel, in index order.
func (m *Mixer) GetAllChannels() []State {
	out := make([]State, len(m.channels))
	for i, c := range m.channels {
		out[i] = c.State()
	}
	return out
}

// SetFader clamps and stores; returns the post-mutation snapshot.
func (m *Mixer) SetFader(id uint32, v float32) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetFader(v)
	return c.State(), true
}

// SetMute sets the mute flag verbatim (an open design question: literal
// state, never a toggle).
func (m *Mixer) SetMute(id uint32, muted bool) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetMute(muted)
	return c.State(), true
}

// SetSolo sets the solo flag verbatim and maintains the active-solo set.
func (m *Mixer) SetSolo(id uint32, solo bool) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetSolo(solo)

	m.soloMu.Lock()
	if solo {
		m.soloActive[id] = struct{}{}
	} else {
		delete(m.soloActive, id)
	}
	m.soloMu.Unlock()

	return c.State(), true
}

// SoloActive returns the ids of channels currently soloed.
func (m *Mixer) SoloActive() []uint32 {
	m.soloMu.Lock()
	defer m.soloMu.Unlock()
	out := make([]uint32, 0, len(m.soloActive))
	for id := range m.soloActive {
		out = append(out, id)
	}
	return out
}

func (m *Mixer) SetPan(id uint32, v float32) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetPan(v)
	return c.State(), true
}

// SetGain sets channel trim in dB, clamped to [-20, 20]. This closes the
// TODO left incomplete upstream: the trim must actually be applied, not just
// echoed back.
func (m *Mixer) SetGain(id uint32, db float32) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetTrim(db)
	return c.State(), true
}

func (m *Mixer) SetChannelName(id uint32, name string) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetName(name)
	return c.State(), true
}

func (m *Mixer) SetChannelColor(id uint32, color string) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetColor(color)
	return c.State(), true
}

func (m *Mixer) SetPhaseInvert(id uint32, inverted bool) (State, bool) {
	c := m.channel(id)
	if c == nil {
		return State{}, false
	}
	c.SetPhase(inverted)
	return c.State(), true
}

// SetRouting proxies to the routing matrix.
func (m *Mixer) SetRouting(input, output int, gain float32) bool {
	return m.routing.Set(input, output, gain)
}

// GetRouting returns the dense routing matrix snapshot.
func (m *Mixer) GetRouting() [][]float32 {
	return m.routing.Snapshot()
}

// Routing exposes the underlying matrix for the audio engine and for the
// supplemental helper operations (Clear/SetUnity/SetStereoPair).
func (m *Mixer) Routing() *RoutingMatrix { return m.routing }

// Snapshot is the full wire-shape mixer state (§3 MixerState).
type Snapshot struct {
	Channels    []State     `json:"channels"`
	Routing     [][]float32 `json:"routing"`
	InputCount  uint32      `json:"input_count"`
	OutputCount uint32      `json:"output_count"`
}

// GetState returns the complete mixer snapshot.
func (m *Mixer) GetState() Snapshot {
	return Snapshot{
		Channels:    m.GetAllChannels(),
		Routing:     m.GetRouting(),
		InputCount:  uint32(m.inputCount),
		OutputCount: uint32(m.outputCount),
	}
}

// GetMeters returns the current peak meter value for every channel, in
// index order.
func (m *Mixer) GetMeters() []float32 {
	out := make([]float32, len(m.channels))
	for i, c := range m.channels {
		out[i] = c.Meter()
	}
	return out
}

// UpdateMeter is called from the audio thread to post a new peak reading.
func (m *Mixer) UpdateMeter(id uint32, peak float32) {
	if c := m.channel(id); c != nil {
		c.UpdateMeter(peak)
	}
}
