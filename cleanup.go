package shmpool

import (
	"errors"

	pkgerrors "github.com/pkg/errors"

	"github.com/shmpool/shmpool/internal/rendezvous"
	"github.com/shmpool/shmpool/internal/segment"
)

// Cleanup reads the link file at linkPath, unlinks the shared-memory
// segment it names, and removes the link file. It is idempotent: a
// missing link or a link naming a missing segment is success, matching
// spec §6.
func Cleanup(linkPath string) error {
	name, err := rendezvous.Read(linkPath)
	if err != nil {
		if errors.Is(err, rendezvous.ErrNotFound) {
			return nil
		}

		return pkgerrors.Wrap(err, "cleanup")
	}

	if err := segment.Unlink(name); err != nil {
		return pkgerrors.Wrap(err, "cleanup")
	}

	return pkgerrors.Wrap(rendezvous.Remove(linkPath), "cleanup")
}
