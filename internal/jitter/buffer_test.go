package jitter

import "testing"

func TestPushPopInOrder(t *testing.T) {
	b := New(8)
	in := []float32{0.1, 0.2, 0.3, 0.4}
	b.PushSamples(in)

	out := make([]float32, 4)
	n := b.PopSamples(out)
	if n != 4 {
		t.Fatalf("expected 4 samples read, got %d", n)
	}
	for i, v := range in {
		if out[i] != v {
			t.Fatalf("sample %d = %v, want %v", i, out[i], v)
		}
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	b := New(4)
	b.PushSamples([]float32{1, 2, 3, 4})
	b.PushSamples([]float32{5}) // capacity+1th sample: oldest (1) dropped

	out := make([]float32, 4)
	n := b.PopSamples(out)
	if n != 4 {
		t.Fatalf("expected 4 available after overflow, got %d", n)
	}
	want := []float32{2, 3, 4, 5}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestUnderrunZeroFills(t *testing.T) {
	b := New(8)
	b.PushSamples([]float32{1, 2})

	out := make([]float32, 5)
	n := b.PopSamples(out)
	if n != 2 {
		t.Fatalf("expected 2 real samples, got %d", n)
	}
	for i := 2; i < 5; i++ {
		if out[i] != 0 {
			t.Fatalf("expected zero-fill at %d, got %v", i, out[i])
		}
	}
}

func TestPopOnEmptyYieldsZerosAndZeroRead(t *testing.T) {
	b := New(4)
	out := make([]float32, 3)
	n := b.PopSamples(out)
	if n != 0 {
		t.Fatalf("expected 0 read on empty buffer, got %d", n)
	}
	for _, v := range out {
		if v != 0 {
			t.Fatalf("expected zeros on empty pop, got %v", v)
		}
	}
}

func TestWraparoundManyCycles(t *testing.T) {
	// Regression test for position-counter wraparound: drive the buffer
	// through far more push/pop cycles than its capacity so the ring
	// position counters wrap many times over, and confirm ordering holds.
	b := New(16)
	var want float32
	for cycle := 0; cycle < 1000; cycle++ {
		b.PushSamples([]float32{want, want + 1, want + 2, want + 3})
		out := make([]float32, 4)
		n := b.PopSamples(out)
		if n != 4 {
			t.Fatalf("cycle %d: expected 4 samples, got %d", cycle, n)
		}
		for i := 0; i < 4; i++ {
			if out[i] != want+float32(i) {
				t.Fatalf("cycle %d sample %d = %v, want %v", cycle, i, out[i], want+float32(i))
			}
		}
		want += 4
	}
}
