package types

import "time"

// Sample is one entry of a fader batch.
type Sample struct {
	// Value is the raw fader position, nominally 0-255
	Value int
	// OK is false when the entry was not an integer; the fader keeps its
	// previous position
	OK bool
}

// Batch is one decoded fader update, indexed by fader number
type Batch struct {
	// Seq is the monotonic sequence number assigned by the intake
	Seq uint64
	// ReceivedAt is when the payload arrived from the broker
	ReceivedAt time.Time
	// Source names the broker channel the payload came from
	Source string
	// Samples holds one entry per fader, in wire order
	Samples []Sample
}

// At returns the sample at index i, or an absent sample when the batch is
// shorter than i.
func (b *Batch) At(i int) Sample {
	if i < 0 || i >= len(b.Samples) {
		return Sample{}
	}
	return b.Samples[i]
}

// Merge overlays newer on b: entries present in newer replace those of b,
// absent entries keep the older value. Used when a batch is superseded
// before it was consumed.
func (b *Batch) Merge(newer *Batch) {
	if len(newer.Samples) > len(b.Samples) {
		grown := make([]Sample, len(newer.Samples))
		copy(grown, b.Samples)
		b.Samples = grown
	}
	for i, s := range newer.Samples {
		if s.OK {
			b.Samples[i] = s
		}
	}
	b.Seq = newer.Seq
	b.ReceivedAt = newer.ReceivedAt
	b.Source = newer.Source
}

// Present counts the integer entries of the batch.
func (b *Batch) Present() int {
	n := 0
	for _, s := range b.Samples {
		if s.OK {
			n++
		}
	}
	return n
}
