// Package jitter implements the fixed-capacity ring buffer that smooths RTP
// packet arrival between the receiver goroutine and the audio thread.
//
// Grounded on original_source/server/src/network_audio/rtp.rs's embedded
// JitterBuffer, with one deliberate fix: the original advances write/read
// positions with an unbounded counter and only takes the modulus at
// indexing time, which risks wraparound after roughly 24 hours of 48 kHz
// stereo audio. This implementation keeps both positions themselves
// bounded to [0, capacity) on every store.
package jitter

import "sync/atomic"

// Buffer is single-producer (RTP receiver goroutine) / single-consumer
// (audio thread) only; it must never be touched from a third
// goroutine.
type Buffer struct {
	data     []float32
	capacity int

	writePos atomic.Uint32 // always in [0, capacity)
	readPos  atomic.Uint32 // always in [0, capacity)
	// available is tracked separately from (writePos - readPos) so that
	// Available() is correct even once both positions have wrapped
	// independently many times.
	available atomic.Int64
}

// New returns a buffer with the given sample capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		data:     make([]float32, capacity),
		capacity: capacity,
	}
}

func (b *Buffer) Capacity() int { return b.capacity }

// Available returns the number of samples currently ready to pop, clamped
// to [0, capacity].
func (b *Buffer) Available() int {
	n := b.available.Load()
	if n < 0 {
		return 0
	}
	if n > int64(b.capacity) {
		return b.capacity
	}
	return int(n)
}

// PushSamples writes samples into the ring. On overflow the oldest sample
// is overwritten and the read position advances to match (oldest-wins
// drop), exactly.
func (b *Buffer) PushSamples(samples []float32) {
	for _, s := range samples {
		wp := b.writePos.Load()
		b.data[wp] = s
		b.writePos.Store((wp + 1) % uint32(b.capacity))

		if b.available.Load() >= int64(b.capacity) {
			// Collision with the read position: drop the oldest sample by
			// advancing read position too.
			rp := b.readPos.Load()
			b.readPos.Store((rp + 1) % uint32(b.capacity))
		} else {
			b.available.Add(1)
		}
	}
}

// PopSamples fills buf from the ring, zero-filling any remainder when fewer
// than len(buf) samples are available. Returns the number of real samples
// read (the rest of buf is zeroed).
func (b *Buffer) PopSamples(buf []float32) int {
	avail := b.Available()
	n := len(buf)
	if avail < n {
		n = avail
	}
	for i := 0; i < n; i++ {
		rp := b.readPos.Load()
		buf[i] = b.data[rp]
		b.readPos.Store((rp + 1) % uint32(b.capacity))
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	if n > 0 {
		b.available.Add(-int64(n))
	}
	return n
}
