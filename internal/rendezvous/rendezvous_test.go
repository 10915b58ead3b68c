package rendezvous_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shmpool/shmpool/internal/rendezvous"
)

func TestWriteReadRoundTrip(t *testing.T) {
	t.Parallel()

	linkPath := filepath.Join(t.TempDir(), "pool.link")

	require.NoError(t, rendezvous.Write(linkPath, "/shmpool-abc123"))

	name, err := rendezvous.Read(linkPath)
	require.NoError(t, err)
	require.Equal(t, "/shmpool-abc123", name)
}

func TestReadMissingLinkReturnsNotFound(t *testing.T) {
	t.Parallel()

	linkPath := filepath.Join(t.TempDir(), "missing.link")

	_, err := rendezvous.Read(linkPath)
	require.ErrorIs(t, err, rendezvous.ErrNotFound)
}

func TestReadEmptyLinkReturnsNotFound(t *testing.T) {
	t.Parallel()

	linkPath := filepath.Join(t.TempDir(), "empty.link")
	require.NoError(t, rendezvous.Write(linkPath, ""))

	_, err := rendezvous.Read(linkPath)
	require.ErrorIs(t, err, rendezvous.ErrNotFound)
}

func TestRemoveIsIdempotent(t *testing.T) {
	t.Parallel()

	linkPath := filepath.Join(t.TempDir(), "pool.link")
	require.NoError(t, rendezvous.Write(linkPath, "/shmpool-xyz"))

	require.NoError(t, rendezvous.Remove(linkPath))
	require.NoError(t, rendezvous.Remove(linkPath))

	_, err := rendezvous.Read(linkPath)
	require.ErrorIs(t, err, rendezvous.ErrNotFound)
}

func TestWriteOverwritesExistingLink(t *testing.T) {
	t.Parallel()

	linkPath := filepath.Join(t.TempDir(), "pool.link")
	require.NoError(t, rendezvous.Write(linkPath, "/shmpool-first"))
	require.NoError(t, rendezvous.Write(linkPath, "/shmpool-second"))

	name, err := rendezvous.Read(linkPath)
	require.NoError(t, err)
	require.Equal(t, "/shmpool-second", name)
}
