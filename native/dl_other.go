//go:build !(darwin || linux)

package native

import (
	"runtime"

	"github.com/wippyai/ffb-runtime/errors"
)

// OpenDynamic is not available on this platform.
func OpenDynamic(path string) (Library, error) {
	return nil, errors.Unsupported(errors.PhaseLoad, "native plugins on "+runtime.GOOS)
}
