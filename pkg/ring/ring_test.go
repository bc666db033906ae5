package ring

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/gainstage/rplugin/pkg/codec"
)

func newTestRing(t *testing.T, capacity int) *SharedRing {
	t.Helper()
	mem := make([]byte, HeaderSize+capacity)
	r, err := New(mem)
	require.NoError(t, err)
	return r
}

func TestWriteCommitRead_RoundTrip(t *testing.T) {
	r := newTestRing(t, 64)

	require.NoError(t, r.WriteOpcode(7))
	require.NoError(t, r.WriteInt(42))
	require.NoError(t, r.WriteString("hello"))
	r.Commit()

	op, err := r.ReadOpcode()
	require.NoError(t, err)
	require.EqualValues(t, 7, op)

	v, err := r.ReadInt()
	require.NoError(t, err)
	require.EqualValues(t, 42, v)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	require.Zero(t, r.Readable())
}

func TestUncommittedWrite_NeverVisibleToReader(t *testing.T) {
	r := newTestRing(t, 64)

	require.NoError(t, r.WriteInt(1))
	require.Zero(t, r.Readable(), "staged but uncommitted bytes must not be readable")
}

func TestOverflowingWrite_InvalidatesCommitAndRewinds(t *testing.T) {
	r := newTestRing(t, 8) // tiny: 8 usable bytes, 7 writable (one slot reserved)

	require.NoError(t, r.WriteInt(1)) // 4 bytes staged, fits
	err := r.WriteN(make([]byte, 8))  // overruns writable space
	require.ErrorIs(t, err, ErrConnectionLost)

	r.Commit() // invalidateCommit was set; this must rewind, not publish

	require.Zero(t, r.Readable())

	// The ring must still be usable afterward.
	require.NoError(t, r.WriteInt(99))
	r.Commit()
	v, err := r.ReadInt()
	require.NoError(t, err)
	require.EqualValues(t, 99, v)
}

func TestReadMoreThanReadable_IsConnectionLost(t *testing.T) {
	r := newTestRing(t, 64)
	require.NoError(t, r.WriteInt(5))
	r.Commit()

	_, err := r.ReadN(8)
	require.ErrorIs(t, err, ErrConnectionLost)
}

// TestRingInvariants_PropertyBased exercises arbitrary sequences of
// commit-sized writes/reads against a model and checks the ring never
// reports more readable bytes than were actually committed, mirroring
// the ring's single-producer/single-consumer invariant under randomized
// interleavings, in the style of the teacher's property-based coverage
// for its own lock-free structures.
func TestRingInvariants_PropertyBased(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(8, 256).Draw(t, "capacity")
		r := &SharedRing{}
		mem := make([]byte, HeaderSize+capacity)
		rr, err := New(mem)
		require.NoError(t, err)
		r = rr

		var model []int32
		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "doWrite") {
				v := rapid.Int32().Draw(t, "value")
				if err := r.WriteInt(v); err == nil {
					r.Commit()
					model = append(model, v)
				} else {
					r.Commit() // must safely rewind, never panic or corrupt state
				}
			} else if len(model) > 0 && r.Readable() >= codec.Int32Size {
				got, err := r.ReadInt()
				require.NoError(t, err)
				require.Equal(t, model[0], got)
				model = model[1:]
			}
		}
	})
}
