package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplayRingTrims(t *testing.T) {
	r := newReplayRing(4)
	r.Append([]byte("ab"))
	r.Append([]byte("cd"))
	r.Append([]byte("ef"))
	assert.Equal(t, []byte("cdef"), r.Snapshot())
}

func TestReplayRingUnderCapacity(t *testing.T) {
	r := newReplayRing(1024)
	r.Append([]byte("hello"))
	assert.Equal(t, []byte("hello"), r.Snapshot())
}

func TestReplayRingSnapshotIsCopy(t *testing.T) {
	r := newReplayRing(1024)
	r.Append([]byte("hello"))
	snap := r.Snapshot()
	snap[0] = 'X'
	assert.Equal(t, []byte("hello"), r.Snapshot())
}
