package segment_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shmpool/shmpool/internal/segment"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	t.Parallel()

	total := segment.TotalSize(8, 1<<20)

	s, err := segment.Create(total)
	require.NoError(t, err)

	defer segment.Unlink(s.Name())

	h := segment.NewHeader(s.Bytes())
	h.SetMagic()
	h.SetVersion(segment.Version)
	require.NoError(t, s.Close())

	s2, err := segment.Open(s.Name())
	require.NoError(t, err)

	defer s2.Close()

	h2 := segment.NewHeader(s2.Bytes())
	require.Equal(t, segment.Magic, h2.Magic())
	require.Equal(t, segment.Version, h2.Version())
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	_, err := segment.Open("/shmpool-does-not-exist")
	require.ErrorIs(t, err, segment.ErrNotFound)
}

func TestUnlinkIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := segment.Create(segment.TotalSize(1, 1024))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, segment.Unlink(s.Name()))
	require.NoError(t, segment.Unlink(s.Name()))
}

func TestLayoutOffsetsAreEightAligned(t *testing.T) {
	t.Parallel()

	for _, n := range []uint32{0, 1, 7, 50, 10000} {
		require.Zero(t, segment.SlotTableOffset()%8)
		require.Zero(t, segment.FreeNodePoolOffset(n)%8)
		require.Zero(t, segment.DataOffset(n)%8)
	}
}
