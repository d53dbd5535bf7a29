package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/errs"
)

func stampAt(n int64, phase string) Stamp {
	return Stamp{SNum: n, Phase: phase, PID: 1, User: "test"}
}

func TestArena_CreateAndGet(t *testing.T) {
	a := NewArena[string]()
	h := a.Create(KindValue, Null, "Mach", "payload", stampAt(1, "make"))

	assert.False(t, h.IsNull())
	val, hdr, err := a.Get(h, KindValue)
	require.NoError(t, err)
	assert.Equal(t, "payload", val)
	assert.Equal(t, "Mach", hdr.Name)
	assert.Equal(t, int64(1), hdr.Last.SNum)
	assert.Equal(t, 1, a.Len())
}

func TestArena_NullAndWrongKind(t *testing.T) {
	a := NewArena[int]()
	h := a.Create(KindBound, Null, "wing", 7, stampAt(1, "make"))

	_, _, err := a.Get(Null, KindBound)
	assert.True(t, errs.Is(err, errs.NullReference))

	_, _, err = a.Get(h, KindAnalysis)
	assert.True(t, errs.Is(err, errs.WrongKind))

	_, _, err = a.Get(Handle{Index: 99, Gen: 1}, KindBound)
	assert.True(t, errs.Is(err, errs.InvalidHandle))

	// Zero kind accepts anything live
	_, _, err = a.Get(h, 0)
	assert.NoError(t, err)
}

func TestArena_DestroyInvalidatesAndIsIdempotent(t *testing.T) {
	a := NewArena[int]()
	h := a.Create(KindValue, Null, "x", 1, stampAt(1, "make"))

	require.NoError(t, a.Destroy(h))
	assert.False(t, a.Valid(h))
	assert.Equal(t, 0, a.Len())

	_, _, err := a.Get(h, KindValue)
	assert.True(t, errs.Is(err, errs.InvalidHandle))

	// Second destroy and null destroy are no-ops
	assert.NoError(t, a.Destroy(h))
	assert.NoError(t, a.Destroy(Null))
	assert.Equal(t, 0, a.Len())
}

func TestArena_ReusedSlotRejectsOldHandle(t *testing.T) {
	a := NewArena[string]()
	old := a.Create(KindValue, Null, "x", "old", stampAt(1, "make"))
	require.NoError(t, a.Destroy(old))

	fresh := a.Create(KindValue, Null, "y", "new", stampAt(2, "make"))
	assert.Equal(t, old.Index, fresh.Index, "slot should be reused")
	assert.NotEqual(t, old.Gen, fresh.Gen)

	_, _, err := a.Get(old, KindValue)
	assert.True(t, errs.Is(err, errs.InvalidHandle))

	val, _, err := a.Get(fresh, KindValue)
	require.NoError(t, err)
	assert.Equal(t, "new", val)
}

func TestArena_DeterministicAllocation(t *testing.T) {
	run := func() []Handle {
		a := NewArena[int]()
		var hs []Handle
		for i := 0; i < 5; i++ {
			hs = append(hs, a.Create(KindValue, Null, "", i, stampAt(int64(i+1), "make")))
		}
		a.Destroy(hs[1])
		a.Destroy(hs[3])
		hs = append(hs, a.Create(KindValue, Null, "", 10, stampAt(6, "make")))
		hs = append(hs, a.Create(KindValue, Null, "", 11, stampAt(7, "make")))
		return hs
	}
	assert.Equal(t, run(), run())
}

func TestArena_SnapshotRestore(t *testing.T) {
	a := NewArena[int]()
	h1 := a.Create(KindValue, Null, "a", 1, stampAt(1, "make"))
	h2 := a.Create(KindValue, Null, "b", 2, stampAt(2, "make"))
	a.Destroy(h1)

	b := RestoreArena(a.Snapshot())
	assert.False(t, b.Valid(h1))
	val, hdr, err := b.Get(h2, KindValue)
	require.NoError(t, err)
	assert.Equal(t, 2, val)
	assert.Equal(t, "b", hdr.Name)

	// Next allocation matches the original arena's next allocation
	assert.Equal(t, a.Create(KindValue, Null, "", 3, stampAt(3, "make")),
		b.Create(KindValue, Null, "", 3, stampAt(3, "make")))
}

func TestHeader_TouchCollapsesSameProvenance(t *testing.T) {
	var hdr Header
	hdr.Touch(stampAt(1, "pre"))
	hdr.Touch(stampAt(2, "pre"))
	hdr.Touch(stampAt(3, "pre"))
	assert.Empty(t, hdr.History, "same provenance should not grow history")
	assert.Equal(t, int64(3), hdr.Last.SNum)

	hdr.Touch(stampAt(4, "post"))
	require.Len(t, hdr.History, 1)
	assert.Equal(t, int64(3), hdr.History[0].SNum)
	assert.Equal(t, "pre", hdr.History[0].Phase)
}

func TestHeader_Attrs(t *testing.T) {
	var hdr Header
	hdr.SetAttr(Attr{Name: "capsGroup", Str: "wing"})
	hdr.SetAttr(Attr{Name: "capsGroup", Str: "tail"})
	hdr.SetAttr(Attr{Name: "nPanels", Ints: []int64{8}})

	a, ok := hdr.Attr("capsGroup")
	require.True(t, ok)
	assert.Equal(t, "tail", a.Str)
	assert.Len(t, hdr.Attrs, 2)

	assert.True(t, hdr.DeleteAttr("capsGroup"))
	assert.False(t, hdr.DeleteAttr("capsGroup"))
	_, ok = hdr.Attr("capsGroup")
	assert.False(t, ok)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "DataSet", KindDataSet.String())
	k, ok := ParseKind("VertexSet")
	assert.True(t, ok)
	assert.Equal(t, KindVertexSet, k)
}

func TestArena_ChangesAndInstallReproduceDelta(t *testing.T) {
	live := NewArena[int]()
	replica := NewArena[int]()
	h0 := live.Create(KindValue, Null, "a", 1, stampAt(1, "make"))
	replica.Create(KindValue, Null, "a", 1, stampAt(1, "make"))
	live.ResetChanges()

	// One operation: destroy a, create b and c, touch c.
	live.Destroy(h0)
	live.Create(KindValue, Null, "b", 2, stampAt(2, "make"))
	hc := live.Create(KindValue, Null, "c", 3, stampAt(2, "make"))
	hdr, err := live.Header(hc)
	require.NoError(t, err)
	hdr.Touch(stampAt(2, "set"))
	live.Mark(hc)

	changes := live.Changes()
	assert.Equal(t, []uint32{0, 1}, changes)
	for _, idx := range changes {
		st, err := live.Slot(idx)
		require.NoError(t, err)
		require.NoError(t, replica.Install(idx, st))
	}
	require.NoError(t, replica.SetFree(live.Free()))

	assert.Equal(t, live.Snapshot(), replica.Snapshot())
	assert.Equal(t, live.Len(), replica.Len())
	assert.Equal(t,
		live.Create(KindValue, Null, "", 9, stampAt(3, "make")),
		replica.Create(KindValue, Null, "", 9, stampAt(3, "make")))

	live.ResetChanges()
	assert.Empty(t, live.Changes())
}

func TestArena_InstallRejectsGaps(t *testing.T) {
	a := NewArena[int]()
	err := a.Install(3, SlotState[int]{Gen: 1, Live: true})
	assert.True(t, errs.Is(err, errs.RangeError))

	a.Create(KindValue, Null, "", 1, stampAt(1, "make"))
	assert.True(t, errs.Is(a.SetFree([]uint32{0}), errs.RangeError), "live slot cannot be free")
}
