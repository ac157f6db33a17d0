package ptp

import "testing"

func TestExtractTimestamp(t *testing.T) {
	data := []byte{
		0x00, 0x00, 0x65, 0x92, 0x00, 0x80, // seconds = 1704067200
		0x1D, 0xCD, 0x65, 0x00, // nanoseconds = 500000000
	}
	got := extractTimestamp(data)
	want := int64(1704067200)*1_000_000_000 + 500000000
	if got != want {
		t.Fatalf("extractTimestamp = %d, want %d", got, want)
	}
}

func TestExtractTimestampShortInput(t *testing.T) {
	if got := extractTimestamp([]byte{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for short input, got %d", got)
	}
}

func TestNewClockDefaults(t *testing.T) {
	c := New("eth0")
	if c.State() != Initializing {
		t.Fatalf("expected Initializing, got %v", c.State())
	}
	if c.OffsetNS() != 0 {
		t.Fatalf("expected zero offset, got %d", c.OffsetNS())
	}
	if c.IsSynchronized() {
		t.Fatal("expected not synchronized before any sync")
	}
}

func TestSetDomainClamps(t *testing.T) {
	c := New("eth0")
	c.SetDomain(200)
	if c.domain != 127 {
		t.Fatalf("expected domain clamped to 127, got %d", c.domain)
	}
}

func TestProcessSyncTransitionsToSlave(t *testing.T) {
	c := New("eth0")
	c.processSync(1_000_000_000, 900_000_000)
	if c.State() != Slave {
		t.Fatalf("expected Slave after first sync, got %v", c.State())
	}
	if !c.IsSynchronized() {
		t.Fatal("expected synchronized after sync")
	}
	if c.OffsetNS() != 100_000_000 {
		t.Fatalf("first sync offset should pass through unfiltered, got %d", c.OffsetNS())
	}
}

func TestProcessSyncAppliesLowPassFilter(t *testing.T) {
	c := New("eth0")
	c.processSync(1_000_000_000, 900_000_000) // offset 100ms, becomes current
	c.processSync(2_000_000_000, 1_000_000_000) // raw offset 1s this time
	// filtered = (100_000_000*7 + 1_000_000_000) / 8
	want := int64((100_000_000*7 + 1_000_000_000) / 8)
	if c.OffsetNS() != want {
		t.Fatalf("filtered offset = %d, want %d", c.OffsetNS(), want)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	c := New("lo")
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second start should be a no-op, got error: %v", err)
	}
	c.Stop()
	c.Stop() // must not block or panic
}

func TestStateStringValues(t *testing.T) {
	cases := map[State]string{
		Initializing: "initializing",
		Listening:    "listening",
		Slave:        "slave",
		Master:       "master",
		Holdover:     "holdover",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
