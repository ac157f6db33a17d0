package mixer

import "sync/atomic"

// RoutingMatrix is a dense input_count x output_count mapping of linear gain
// in [0,1]. Writers (Set/Clear/SetUnity/SetStereoPair) build a full copy of
// the matrix and atomically swap it in (the "double-buffer the matrix and
// swap pointers atomically" discipline); the audio thread's TrySnapshot load
// is a single atomic pointer load with no lock and no fallback to stale
// state needed, since there is nothing for it to contend with.
type RoutingMatrix struct {
	inputCount  int
	outputCount int
	cells       atomic.Pointer[[][]float32] // [input][output]
	writeMu     chan struct{}               // 1-buffered, serializes writers only
}

// NewRoutingMatrix builds a matrix with identity routing on the leading
// diagonal (input i -> output i for i < min(inputCount, outputCount)).
func NewRoutingMatrix(inputCount, outputCount int) *RoutingMatrix {
	cells := make([][]float32, inputCount)
	for i := range cells {
		cells[i] = make([]float32, outputCount)
	}
	n := inputCount
	if outputCount < n {
		n = outputCount
	}
	for i := 0; i < n; i++ {
		cells[i][i] = 1.0
	}
	m := &RoutingMatrix{
		inputCount:  inputCount,
		outputCount: outputCount,
		writeMu:     make(chan struct{}, 1),
	}
	m.writeMu <- struct{}{}
	m.cells.Store(&cells)
	return m
}

func cloneMatrix(src [][]float32) [][]float32 {
	out := make([][]float32, len(src))
	for i, row := range src {
		out[i] = append([]float32(nil), row...)
	}
	return out
}

func (m *RoutingMatrix) load() [][]float32 {
	return *m.cells.Load()
}

// withWriteLock serializes concurrent writers (mutate is never called by the
// audio thread) and publishes the mutated clone with a single atomic store.
func (m *RoutingMatrix) withWriteLock(mutate func(cells [][]float32)) {
	<-m.writeMu
	defer func() { m.writeMu <- struct{}{} }()
	next := cloneMatrix(m.load())
	mutate(next)
	m.cells.Store(&next)
}

// Get returns the gain at (input, output), or 0 if out of range.
func (m *RoutingMatrix) Get(input, output int) float32 {
	if input < 0 || input >= m.inputCount || output < 0 || output >= m.outputCount {
		return 0
	}
	return m.load()[input][output]
}

// Set clamps gain to [0,1] and writes the cell. Returns false if the indices
// are out of range (rejected, not clamped — indices are a different kind of
// input than gain values).
func (m *RoutingMatrix) Set(input, output int, gain float32) bool {
	if !m.indicesValid(input, output) {
		return false
	}
	gain = clamp(gain, 0, 1)
	m.withWriteLock(func(cells [][]float32) {
		cells[input][output] = gain
	})
	return true
}

// Snapshot returns a clone of the dense matrix, safe for the caller to
// retain and mutate.
func (m *RoutingMatrix) Snapshot() [][]float32 {
	return cloneMatrix(m.load())
}

// TrySnapshot is the real-time-safe accessor: a single atomic pointer load,
// never blocking and never allocating. The returned matrix must not be
// mutated by the caller — it is shared with any concurrent reader and is
// replaced, never modified in place, by writers.
func (m *RoutingMatrix) TrySnapshot() [][]float32 {
	return m.load()
}

// Clear sets every cell to 0. Supplemental operation grounded on
// original_source/server/src/mixer/routing.rs::clear.
func (m *RoutingMatrix) Clear() {
	m.withWriteLock(func(cells [][]float32) {
		for i := range cells {
			for j := range cells[i] {
				cells[i][j] = 0
			}
		}
	})
}

// SetUnity resets the matrix to identity routing on the leading diagonal.
// Supplemental operation grounded on routing.rs::set_unity.
func (m *RoutingMatrix) SetUnity() {
	m.withWriteLock(func(cells [][]float32) {
		for i := range cells {
			for j := range cells[i] {
				if i == j {
					cells[i][j] = 1
				} else {
					cells[i][j] = 0
				}
			}
		}
	})
}

// SetStereoPair routes input pair (inL, inR) to output pair (outL, outR) at
// unity gain. Supplemental operation grounded on
// routing.rs::set_stereo_pair.
func (m *RoutingMatrix) SetStereoPair(inL, inR, outL, outR int) bool {
	if !m.indicesValid(inL, outL) || !m.indicesValid(inR, outR) {
		return false
	}
	m.withWriteLock(func(cells [][]float32) {
		cells[inL][outL] = 1
		cells[inR][outR] = 1
	})
	return true
}

func (m *RoutingMatrix) indicesValid(input, output int) bool {
	return input >= 0 && input < m.inputCount && output >= 0 && output < m.outputCount
}

// InputsForOutput returns the inputs with gain > 0 feeding the given output.
func (m *RoutingMatrix) InputsForOutput(output int) []int {
	cells := m.load()
	var out []int
	if output < 0 || output >= m.outputCount {
		return out
	}
	for i := 0; i < m.inputCount; i++ {
		if cells[i][output] > 0 {
			out = append(out, i)
		}
	}
	return out
}

// OutputsForInput returns the outputs with gain > 0 fed by the given input.
func (m *RoutingMatrix) OutputsForInput(input int) []int {
	cells := m.load()
	var out []int
	if input < 0 || input >= m.inputCount {
		return out
	}
	for j := 0; j < m.outputCount; j++ {
		if cells[input][j] > 0 {
			out = append(out, j)
		}
	}
	return out
}

func (m *RoutingMatrix) InputCount() int  { return m.inputCount }
func (m *RoutingMatrix) OutputCount() int { return m.outputCount }
