//go:build darwin || linux

package native

import (
	"github.com/ebitengine/purego"

	"github.com/wippyai/ffb-runtime/errors"
)

// cVTable mirrors PluginVTable.
type cVTable struct {
	create     uintptr
	process    uintptr
	destroy    uintptr
	abiVersion uint32
}

type dynLibrary struct {
	path   string
	handle uintptr
}

// OpenDynamic loads a shared object with dlopen. No cgo is involved.
func OpenDynamic(path string) (Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, errors.Load("dlopen "+path, err)
	}
	return &dynLibrary{path: path, handle: h}, nil
}

func (l *dynLibrary) Lookup(symbol string) (VTable, error) {
	sym, err := purego.Dlsym(l.handle, symbol)
	if err != nil {
		return VTable{}, errors.Load("missing symbol "+symbol+" in "+l.path, err)
	}

	var get func() *cVTable
	purego.RegisterFunc(&get, sym)
	raw := get()
	if raw == nil || raw.create == 0 || raw.process == 0 || raw.destroy == 0 {
		return VTable{}, errors.Load("incomplete vtable in "+l.path, nil)
	}

	var (
		create  func(cfg *byte, n uintptr) uintptr
		process func(state uintptr, f *PluginFrame) int32
		destroy func(state uintptr)
	)
	purego.RegisterFunc(&create, raw.create)
	purego.RegisterFunc(&process, raw.process)
	purego.RegisterFunc(&destroy, raw.destroy)

	return VTable{
		ABIVersion: raw.abiVersion,
		Create: func(cfg []byte) uintptr {
			if len(cfg) == 0 {
				return create(nil, 0)
			}
			return create(&cfg[0], uintptr(len(cfg)))
		},
		Process: process,
		Destroy: destroy,
	}, nil
}

func (l *dynLibrary) Close() error {
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}
