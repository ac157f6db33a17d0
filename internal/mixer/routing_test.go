package mixer

import "testing"

func TestRoutingMatrixIdentityDefault(t *testing.T) {
	m := NewRoutingMatrix(4, 2)
	if m.Get(0, 0) != 1 {
		t.Fatalf("expected identity gain at (0,0), got %v", m.Get(0, 0))
	}
	if m.Get(1, 1) != 1 {
		t.Fatalf("expected identity gain at (1,1), got %v", m.Get(1, 1))
	}
	if m.Get(2, 0) != 0 {
		t.Fatalf("expected 0 off-diagonal, got %v", m.Get(2, 0))
	}
}

func TestRoutingMatrixSetClampsAndRejectsOutOfRange(t *testing.T) {
	m := NewRoutingMatrix(2, 2)
	if !m.Set(0, 1, 2.0) {
		t.Fatal("expected Set to succeed for in-range indices")
	}
	if g := m.Get(0, 1); g != 1.0 {
		t.Fatalf("expected gain clamped to 1.0, got %v", g)
	}
	if m.Set(5, 0, 0.5) {
		t.Fatal("expected Set to reject out-of-range input index")
	}
}

func TestRoutingMatrixSnapshotIsIndependentCopy(t *testing.T) {
	m := NewRoutingMatrix(2, 2)
	snap := m.Snapshot()
	m.Set(0, 0, 0)
	if snap[0][0] != 1 {
		t.Fatal("snapshot should not reflect later mutation")
	}
}

func TestRoutingMatrixClearAndSetUnity(t *testing.T) {
	m := NewRoutingMatrix(3, 3)
	m.Clear()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if m.Get(i, j) != 0 {
				t.Fatalf("expected all-zero after Clear, got (%d,%d)=%v", i, j, m.Get(i, j))
			}
		}
	}
	m.SetUnity()
	for i := 0; i < 3; i++ {
		if m.Get(i, i) != 1 {
			t.Fatalf("expected identity diagonal after SetUnity at %d", i)
		}
	}
}

func TestRoutingMatrixSetStereoPair(t *testing.T) {
	m := NewRoutingMatrix(4, 4)
	m.Clear()
	if !m.SetStereoPair(0, 1, 2, 3) {
		t.Fatal("expected SetStereoPair to succeed")
	}
	if m.Get(0, 2) != 1 || m.Get(1, 3) != 1 {
		t.Fatal("expected stereo pair routed at unity")
	}
}

func TestRoutingMatrixInputsOutputsFor(t *testing.T) {
	m := NewRoutingMatrix(3, 2)
	ins := m.InputsForOutput(0)
	if len(ins) != 1 || ins[0] != 0 {
		t.Fatalf("expected only input 0 feeding output 0, got %v", ins)
	}
	outs := m.OutputsForInput(2)
	if len(outs) != 0 {
		t.Fatalf("expected no outputs for input 2 (outside identity diagonal), got %v", outs)
	}
}
