package retransmit_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rdpproto/rdp/retransmit"
)

func TestRegistryOldestTracksSmallestSentTime(t *testing.T) {
	var reg retransmit.Registry
	base := time.Now()

	reg.Insert(retransmit.Segment{Sequence: 102, Data: []byte("ab"), SentTime: base})
	reg.Insert(retransmit.Segment{Sequence: 104, Data: []byte("cd"), SentTime: base.Add(time.Second)})
	reg.Insert(retransmit.Segment{Sequence: 106, Data: []byte("ef"), SentTime: base.Add(2 * time.Second)})

	oldest, ok := reg.Oldest()
	require.True(t, ok)
	require.Equal(t, uint16(102), oldest.Sequence)

	// Retransmitting 102 moves it to the back of the age ordering.
	reg.MarkSent(102, base.Add(3*time.Second))
	oldest, ok = reg.Oldest()
	require.True(t, ok)
	require.Equal(t, uint16(104), oldest.Sequence)
}

func TestRegistryRemoveReleasesSegment(t *testing.T) {
	var reg retransmit.Registry
	reg.Insert(retransmit.Segment{Sequence: 102, Data: []byte("ab"), SentTime: time.Now()})

	seg, ok := reg.Remove(102)
	require.True(t, ok)
	require.Equal(t, []byte("ab"), seg.Data)
	require.Equal(t, 0, reg.Len())

	_, ok = reg.Remove(102)
	require.False(t, ok, "removing twice must report absence, not panic")
}

func TestRegistryExpiredReturnsOnlyStaleSegments(t *testing.T) {
	var reg retransmit.Registry
	now := time.Now()
	reg.Insert(retransmit.Segment{Sequence: 102, Data: []byte("a"), SentTime: now.Add(-200 * time.Millisecond)})
	reg.Insert(retransmit.Segment{Sequence: 104, Data: []byte("b"), SentTime: now})

	expired := reg.Expired(now, 100*time.Millisecond)
	require.Len(t, expired, 1)
	require.Equal(t, uint16(102), expired[0].Sequence)
}

func TestRegistryInsertDuplicateSequencePanics(t *testing.T) {
	var reg retransmit.Registry
	reg.Insert(retransmit.Segment{Sequence: 102, SentTime: time.Now()})
	require.Panics(t, func() {
		reg.Insert(retransmit.Segment{Sequence: 102, SentTime: time.Now()})
	})
}
