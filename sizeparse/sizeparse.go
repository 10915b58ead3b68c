// Package sizeparse implements the "<number>[KMG]" size grammar that
// spec.md §6 assigns to the external façade rather than the core: a
// façade wiring up a Pool from a config file or flag typically wants to
// accept "512M" and hand the core a byte count, not the other way
// around. Keeping this in its own package, outside shmpool, keeps the
// core free of any parsing dependency.
package sizeparse

import (
	"strconv"
	"strings"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
)

// ErrInvalidSize is returned for empty, malformed, or negative sizes.
var ErrInvalidSize = errors.New("sizeparse: invalid size")

// Parse converts a string of the form "<number>[KMG]" into a byte count.
// The suffix is case-insensitive and binary (K=1024, M=1024K, G=1024M);
// a bare number is taken as a byte count. Fractional numbers (e.g.
// "1.5G") are accepted.
func Parse(s string) (units.Base2Bytes, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, errors.Wrap(ErrInvalidSize, "empty string")
	}

	mult := units.Base2Bytes(1)
	numPart := trimmed

	switch trimmed[len(trimmed)-1] {
	case 'k', 'K':
		mult = units.KiB
		numPart = trimmed[:len(trimmed)-1]
	case 'm', 'M':
		mult = units.MiB
		numPart = trimmed[:len(trimmed)-1]
	case 'g', 'G':
		mult = units.GiB
		numPart = trimmed[:len(trimmed)-1]
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidSize, "parse %q: %v", s, err)
	}

	if n < 0 {
		return 0, errors.Wrapf(ErrInvalidSize, "negative size %q", s)
	}

	return units.Base2Bytes(n * float64(mult)), nil
}
