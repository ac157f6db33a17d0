package mixer

import "testing"

func TestMixerCreation(t *testing.T) {
	m := New(32, 32)
	if m.InputCount() != 32 || m.OutputCount() != 32 {
		t.Fatalf("unexpected dimensions: %d x %d", m.InputCount(), m.OutputCount())
	}
	if len(m.GetAllChannels()) != 32 {
		t.Fatalf("expected 32 channels, got %d", len(m.GetAllChannels()))
	}
}

func TestMixerChannelIDMatchesIndex(t *testing.T) {
	m := New(8, 2)
	for i, c := range m.GetAllChannels() {
		if c.ID != uint32(i) {
			t.Fatalf("channel %d has id %d", i, c.ID)
		}
	}
}

func TestMixerSetFaderClampsAndReturnsSnapshot(t *testing.T) {
	m := New(8, 2)
	state, ok := m.SetFader(0, 2.0)
	if !ok {
		t.Fatal("expected ok for valid channel")
	}
	if state.Fader != FaderMax {
		t.Fatalf("expected clamp to %v, got %v", FaderMax, state.Fader)
	}

	if _, ok := m.SetFader(999, 0.5); ok {
		t.Fatal("expected no-such-channel to report false")
	}
}

func TestMixerSetMuteIsLiteralNotToggle(t *testing.T) {
	m := New(8, 2)
	state, _ := m.SetMute(0, true)
	if !state.Mute {
		t.Fatal("expected mute true")
	}
	state, _ = m.SetMute(0, true) // applied twice: idempotent
	if !state.Mute {
		t.Fatal("expected mute still true after applying true twice")
	}
	state, _ = m.SetMute(0, false)
	if state.Mute {
		t.Fatal("expected mute false after literal false")
	}
}

func TestMixerSoloActiveSet(t *testing.T) {
	m := New(4, 2)
	m.SetSolo(1, true)
	m.SetSolo(2, true)
	active := m.SoloActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 soloed channels, got %d", len(active))
	}
	m.SetSolo(1, false)
	if len(m.SoloActive()) != 1 {
		t.Fatalf("expected 1 soloed channel after unsolo, got %d", len(m.SoloActive()))
	}
}

func TestMixerSetGainClampsToTrimRange(t *testing.T) {
	m := New(4, 2)
	state, _ := m.SetGain(0, 100)
	if state.Gain != TrimMaxDB {
		t.Fatalf("expected gain clamped to %v, got %v", TrimMaxDB, state.Gain)
	}
}

func TestMixerGetStateShape(t *testing.T) {
	m := New(4, 2)
	s := m.GetState()
	if s.InputCount != 4 || s.OutputCount != 2 {
		t.Fatalf("unexpected state dims: %+v", s)
	}
	if len(s.Channels) != 4 || len(s.Routing) != 4 {
		t.Fatalf("unexpected state shape: %+v", s)
	}
}

func TestMixerMeters(t *testing.T) {
	m := New(2, 2)
	m.UpdateMeter(0, 0.42)
	meters := m.GetMeters()
	if meters[0] != 0.42 {
		t.Fatalf("expected meter 0.42, got %v", meters[0])
	}
}
