// Package rendezvous implements the link file: a tiny regular file whose
// contents name the shared-memory segment currently backing a pool, so
// that unrelated processes can discover and open it.
package rendezvous

import (
	"os"
	"strings"

	atomicfile "github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when the link file is missing, empty, or
// otherwise doesn't name a segment.
var ErrNotFound = errors.New("rendezvous: link not found")

// Write installs name as the contents of linkPath via write-to-temp then
// rename, so concurrent readers never observe a partially written link.
func Write(linkPath, name string) error {
	if err := atomicfile.WriteFile(linkPath, strings.NewReader(name+"\n")); err != nil {
		return errors.Wrapf(err, "write link %v", linkPath)
	}

	return nil
}

// Read returns the segment name recorded at linkPath.
func Read(linkPath string) (string, error) {
	b, err := os.ReadFile(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}

		return "", errors.Wrapf(err, "read link %v", linkPath)
	}

	name := strings.TrimSpace(string(b))
	if name == "" {
		return "", ErrNotFound
	}

	return name, nil
}

// Remove deletes the link file. It is idempotent: a missing file is success.
func Remove(linkPath string) error {
	err := os.Remove(linkPath)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove link %v", linkPath)
	}

	return nil
}
