package sizeparse_test

import (
	"testing"

	"github.com/alecthomas/units"
	"github.com/stretchr/testify/require"

	"github.com/shmpool/shmpool/sizeparse"
)

func TestParseSuffixes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want units.Base2Bytes
	}{
		{"512", 512},
		{"1K", units.KiB},
		{"1k", units.KiB},
		{"4M", 4 * units.MiB},
		{"2G", 2 * units.GiB},
		{"1.5G", units.Base2Bytes(1.5 * float64(units.GiB))},
		{"  8M  ", 8 * units.MiB},
	}

	for _, tc := range cases {
		got, err := sizeparse.Parse(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "abc", "-5M", "5X"} {
		_, err := sizeparse.Parse(in)
		require.ErrorIs(t, err, sizeparse.ErrInvalidSize, in)
	}
}
