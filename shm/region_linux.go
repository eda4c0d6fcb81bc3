//go:build linux

package shm

import (
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/wippyai/ffb-runtime/errors"
)

// shmDir holds POSIX shared memory objects.
var shmDir = "/dev/shm"

type sharedRegion struct {
	name  string
	path  string
	data  []byte
	owner bool
}

func sharedPath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return "", errors.InvalidInput(errors.PhaseChannel, "invalid shared memory name "+name)
	}
	return filepath.Join(shmDir, name), nil
}

// CreateShared creates the shared memory object name with size bytes. The
// object is removed when the returned region is closed.
func CreateShared(name string, size int) (Region, error) {
	if err := checkRegionSize(size); err != nil {
		return nil, err
	}
	path, err := sharedPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseChannel, errors.KindInvalidInput, err, "create "+path)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		_ = unix.Unlink(path)
		return nil, errors.Wrap(errors.PhaseChannel, errors.KindInvalidInput, err, "truncate "+path)
	}
	data, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, errors.Wrap(errors.PhaseChannel, errors.KindInvalidInput, err, "mmap "+path)
	}
	return &sharedRegion{name: name, path: path, data: data, owner: true}, nil
}

// OpenShared maps an existing shared memory object created by another
// process. Closing it unmaps without removing the object.
func OpenShared(name string) (Region, error) {
	path, err := sharedPath(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseChannel, errors.KindNotFound, err, "open "+path)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, errors.Wrap(errors.PhaseChannel, errors.KindInvalidInput, err, "stat "+path)
	}
	if err := checkRegionSize(int(st.Size)); err != nil {
		return nil, err
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseChannel, errors.KindInvalidInput, err, "mmap "+path)
	}
	return &sharedRegion{name: name, path: path, data: data}, nil
}

func (s *sharedRegion) Bytes() []byte { return s.data }
func (s *sharedRegion) Name() string  { return s.name }

func (s *sharedRegion) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if s.owner {
		if uerr := unix.Unlink(s.path); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}
