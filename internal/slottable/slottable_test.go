package slottable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shmpool/shmpool/internal/segment"
	"github.com/shmpool/shmpool/internal/slottable"
)

func newTable(t *testing.T, count uint32) *slottable.Table {
	t.Helper()

	buf := make([]byte, segment.TotalSize(count, 0))
	return slottable.New(buf, count)
}

func TestFindFreeAndFindByID(t *testing.T) {
	t.Parallel()

	tbl := newTable(t, 3)

	idx, ok := tbl.FindFree()
	require.True(t, ok)
	require.EqualValues(t, 0, idx)

	rec := tbl.Record(idx)
	rec.SetID(42)
	rec.SetOffset(0)
	rec.SetLength(16)
	rec.SetRefcount(1)
	rec.SetOccupied(true)

	foundIdx, ok := tbl.FindByID(42)
	require.True(t, ok)
	require.Equal(t, idx, foundIdx)

	_, ok = tbl.FindByID(7)
	require.False(t, ok)
}

func TestSlotExhaustion(t *testing.T) {
	// Mirrors scenario S4.
	t.Parallel()

	tbl := newTable(t, 3)

	for i := uint64(1); i <= 3; i++ {
		idx, ok := tbl.FindFree()
		require.True(t, ok)

		rec := tbl.Record(idx)
		rec.SetID(i)
		rec.SetRefcount(1)
		rec.SetOccupied(true)
	}

	_, ok := tbl.FindFree()
	require.False(t, ok, "all three slots are occupied")

	tbl.Record(1).Clear()

	idx, ok := tbl.FindFree()
	require.True(t, ok)
	require.EqualValues(t, 1, idx)
}

func TestClearResetsToEmptyState(t *testing.T) {
	t.Parallel()

	tbl := newTable(t, 1)

	rec := tbl.Record(0)
	rec.SetID(99)
	rec.SetOffset(128)
	rec.SetLength(64)
	rec.SetRefcount(3)
	rec.SetOccupied(true)

	rec.Clear()

	require.False(t, rec.Occupied())
	require.Zero(t, rec.ID())
	require.Zero(t, rec.Refcount())
}

func TestForEachOccupiedVisitsOnlyOccupied(t *testing.T) {
	t.Parallel()

	tbl := newTable(t, 4)

	tbl.Record(0).SetOccupied(true)
	tbl.Record(0).SetID(1)
	tbl.Record(2).SetOccupied(true)
	tbl.Record(2).SetID(2)

	var seen []uint64
	tbl.ForEachOccupied(func(_ uint32, r slottable.Record) {
		seen = append(seen, r.ID())
	})

	require.ElementsMatch(t, []uint64{1, 2}, seen)
}
