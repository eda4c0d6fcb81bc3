package native

// VTableSymbol is the exported function that returns a pointer to the
// plugin's function table:
//
//	const PluginVTable *get_plugin_vtable(void);
//
//	typedef struct {
//	    void   *(*create)(const uint8_t *config, size_t len);
//	    int32_t (*process)(void *state, PluginFrame *frame);
//	    void    (*destroy)(void *state);
//	    uint32_t abi_version;
//	} PluginVTable;
const VTableSymbol = "get_plugin_vtable"

// PluginFrame is exchanged with the plugin on every call. The layout matches
// the C struct {float ffb_in, torque_out, wheel_speed; uint64_t timestamp_ns;
// uint32_t budget_us, sequence;}.
type PluginFrame struct {
	FfbIn       float32
	TorqueOut   float32
	WheelSpeed  float32
	_           uint32
	TimestampNs uint64
	BudgetUs    uint32
	Sequence    uint32
}

// VTable is the bound function table of a loaded library. State handles are
// opaque plugin-owned pointers; zero means none.
type VTable struct {
	Create     func(config []byte) uintptr
	Process    func(state uintptr, f *PluginFrame) int32
	Destroy    func(state uintptr)
	ABIVersion uint32
}

func (vt VTable) complete() bool {
	return vt.Create != nil && vt.Process != nil && vt.Destroy != nil
}

// Library is an opened shared object.
type Library interface {
	Lookup(symbol string) (VTable, error)
	Close() error
}

// Opener opens the library at path.
type Opener func(path string) (Library, error)
