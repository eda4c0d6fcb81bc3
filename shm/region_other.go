//go:build !linux

package shm

import "github.com/wippyai/ffb-runtime/errors"

func CreateShared(name string, size int) (Region, error) {
	return nil, errors.Unsupported(errors.PhaseChannel, "named shared memory on this platform")
}

func OpenShared(name string) (Region, error) {
	return nil, errors.Unsupported(errors.PhaseChannel, "named shared memory on this platform")
}
