package segment

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Open when the named segment does not exist.
var ErrNotFound = errors.New("segment: not found")

// ErrExists is returned by Create when a segment with the generated name
// already exists, which should not happen absent a UUID collision.
var ErrExists = errors.New("segment: already exists")

// Segment is a fixed-size anonymous file in the host's shared-memory
// namespace, mapped into the calling process. All occupied-slot bytes,
// free-list metadata, and the header live inside Bytes().
type Segment struct {
	file *os.File
	data mmap.MMap
	name string
}

// Dir returns the directory used to realize the shared-memory namespace.
// On Linux this is /dev/shm when present (a tmpfs, matching the semantics
// of POSIX shm_open); otherwise it falls back to the OS temp directory,
// which is sufficient for single-host development and testing.
func Dir() string {
	if runtime.GOOS == "linux" {
		if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
			return "/dev/shm"
		}
	}

	return os.TempDir()
}

func pathFor(name string) string {
	return filepath.Join(Dir(), strings.TrimPrefix(name, "/"))
}

// Create allocates a new segment of the given total size under a fresh,
// randomly generated name and maps it read/write.
func Create(totalSize uint64) (*Segment, error) {
	name := "/shmpool-" + uuid.New().String()
	path := pathFor(name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(ErrExists, "create segment %v", name)
		}

		return nil, errors.Wrapf(err, "create segment file %v", path)
	}

	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		os.Remove(path)

		return nil, errors.Wrapf(err, "size segment %v", name)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		os.Remove(path)

		return nil, errors.Wrapf(err, "map segment %v", name)
	}

	return &Segment{file: f, data: data, name: name}, nil
}

// Open maps an existing segment, identified by the name previously
// returned by Create (as recorded in a rendezvous link file).
func Open(name string) (*Segment, error) {
	path := pathFor(name)

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "open segment %v", name)
		}

		return nil, errors.Wrapf(err, "open segment file %v", path)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "map segment %v", name)
	}

	return &Segment{file: f, data: data, name: name}, nil
}

// Unlink removes the backing file for the named segment. It is
// idempotent: a missing segment is success.
func Unlink(name string) error {
	err := os.Remove(pathFor(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "unlink segment %v", name)
	}

	return nil
}

// Name returns the segment's rendezvous name.
func (s *Segment) Name() string { return s.name }

// Bytes returns the full mapped segment, header first.
func (s *Segment) Bytes() []byte { return s.data }

// Close unmaps the segment and closes the underlying file descriptor. It
// does not remove the backing file; call Unlink for that.
func (s *Segment) Close() error {
	if err := s.data.Unmap(); err != nil {
		s.file.Close()
		return errors.Wrap(err, "unmap segment")
	}

	return errors.Wrap(s.file.Close(), "close segment file")
}
