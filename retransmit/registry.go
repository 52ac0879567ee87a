// Package retransmit implements the sender's in-flight segment
// registry. Segments are keyed by the sequence number at which their
// payload begins; the registry tracks each segment's last-sent
// timestamp so the oldest unacknowledged segment can be found and
// retransmitted on a timer tick by age rather than by raw sequence
// number, which would misorder the choice across a 16-bit wraparound.
package retransmit

import (
	"container/heap"
	"sort"
	"time"
)

// Segment is a sender-side in-flight segment: a DAT payload that has
// been sent but not yet acknowledged.
type Segment struct {
	// Sequence is the 16-bit sequence number at which Data begins.
	Sequence uint16
	// FilePosition is the absolute offset in the source byte stream
	// this segment's payload was read from; kept for bookkeeping and
	// diagnostics only, not used in any protocol decision.
	FilePosition int64
	// Data is the owned payload buffer. Its lifetime extends until the
	// segment is removed from the registry (on ACK, via Remove).
	Data []byte
	// SentTime is the monotonic timestamp of the segment's most recent
	// transmission, original or retransmit.
	SentTime time.Time
}

// Size returns the payload byte count of the segment.
func (s Segment) Size() int { return len(s.Data) }

// entry is the heap element: a Segment plus its position in the
// registry's by-time min-heap, maintained by heap.Fix on every
// MarkSent so Oldest stays an O(log n) operation.
type entry struct {
	seg   Segment
	index int
}

// Registry is the collection of in-flight segments, exclusively owned
// by one sender engine. The zero value is ready to use.
type Registry struct {
	bySeq map[uint16]*entry
	byAge ageHeap
}

func (r *Registry) init() {
	if r.bySeq == nil {
		r.bySeq = make(map[uint16]*entry)
	}
}

// Len returns the number of in-flight segments.
func (r *Registry) Len() int { return len(r.bySeq) }

// Insert adds seg to the registry. Insert panics if a segment with the
// same Sequence is already registered; each sequence number is unique
// to one in-flight segment and callers must Remove before re-inserting
// under the same sequence.
func (r *Registry) Insert(seg Segment) {
	r.init()
	if _, exists := r.bySeq[seg.Sequence]; exists {
		panic("retransmit: duplicate sequence inserted")
	}
	e := &entry{seg: seg}
	r.bySeq[seg.Sequence] = e
	heap.Push(&r.byAge, e)
}

// Remove removes and returns the segment with the given sequence
// number. The returned bool is false if no such segment is registered
// (for example, an ACK that arrived after the segment already drained).
func (r *Registry) Remove(seq uint16) (Segment, bool) {
	r.init()
	e, ok := r.bySeq[seq]
	if !ok {
		return Segment{}, false
	}
	delete(r.bySeq, seq)
	heap.Remove(&r.byAge, e.index)
	return e.seg, true
}

// Get returns the segment registered under seq without removing it.
func (r *Registry) Get(seq uint16) (Segment, bool) {
	r.init()
	e, ok := r.bySeq[seq]
	if !ok {
		return Segment{}, false
	}
	return e.seg, true
}

// MarkSent updates the SentTime of the segment under seq and restores
// the heap invariant. It reports false if no such segment exists.
func (r *Registry) MarkSent(seq uint16, now time.Time) bool {
	r.init()
	e, ok := r.bySeq[seq]
	if !ok {
		return false
	}
	e.seg.SentTime = now
	heap.Fix(&r.byAge, e.index)
	return true
}

// Oldest returns the segment with the smallest SentTime: the in-flight
// segment transmitted (or retransmitted) longest ago, and the one
// selected for retransmission on a timer tick. The bool is false when
// the registry is empty.
func (r *Registry) Oldest() (Segment, bool) {
	if len(r.byAge) == 0 {
		return Segment{}, false
	}
	return r.byAge[0].seg, true
}

// Expired returns every segment whose SentTime is older than
// now.Add(-timeout), oldest first. Only the single oldest expired
// segment is retransmitted per timer tick (go-back-to-oldest, not
// go-back-N); Expired is exposed as a slice so callers and tests can
// observe the full expired set, but the event loop only acts on
// Expired(...)[0].
func (r *Registry) Expired(now time.Time, timeout time.Duration) []Segment {
	deadline := now.Add(-timeout)
	var out []Segment
	for _, e := range r.byAge {
		if e.seg.SentTime.Before(deadline) {
			out = append(out, e.seg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentTime.Before(out[j].SentTime) })
	return out
}

// Segments returns every in-flight segment, in no particular order.
// Intended for test assertions that every in-flight sequence number
// falls within the sender's issued range.
func (r *Registry) Segments() []Segment {
	out := make([]Segment, 0, len(r.bySeq))
	for _, e := range r.bySeq {
		out = append(out, e.seg)
	}
	return out
}

// ageHeap is a container/heap min-heap ordered by Segment.SentTime.
type ageHeap []*entry

func (h ageHeap) Len() int            { return len(h) }
func (h ageHeap) Less(i, j int) bool  { return h[i].seg.SentTime.Before(h[j].seg.SentTime) }
func (h ageHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *ageHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *ageHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
