package aes67

import "testing"

func TestNewBackendDefaults(t *testing.T) {
	b := New("eth0")
	if b.Name() != "aes67" {
		t.Fatalf("name = %q, want aes67", b.Name())
	}
	if b.IsConnected() {
		t.Fatal("expected not connected before Connect")
	}
	if b.Latency() != 0 {
		t.Fatalf("latency = %d, want 0 before connect", b.Latency())
	}
}

func TestReadSamplesZeroFillsWhenDisconnected(t *testing.T) {
	b := New("eth0")
	buf := make([]float32, 4)
	for i := range buf {
		buf[i] = 9
	}
	n := b.ReadSamples(buf, 2)
	if n != 0 {
		t.Fatalf("expected 0 samples read while disconnected, got %d", n)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("buf[%d] = %v, want 0 after disconnected read", i, v)
		}
	}
}

func TestWriteSamplesNoopWhenDisconnected(t *testing.T) {
	b := New("eth0")
	n := b.WriteSamples([]float32{1, 2, 3, 4}, 2)
	if n != 0 {
		t.Fatalf("expected 0 samples written while disconnected, got %d", n)
	}
}

func TestDiscoverEmptyBeforeAnyAnnouncements(t *testing.T) {
	b := New("eth0")
	devices, err := b.Discover()
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices discovered yet, got %d", len(devices))
	}
}

func TestDisconnectWithoutConnectIsNoop(t *testing.T) {
	b := New("eth0")
	if err := b.Disconnect(); err != nil {
		t.Fatalf("disconnect without connect should be a no-op, got: %v", err)
	}
}
