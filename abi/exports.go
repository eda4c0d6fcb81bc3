package abi

// Host module and function names shared with WASM plugins.
const (
	HostModule = "env"

	ExportProcess  = "process"
	ExportMemory   = "memory"
	ExportInit     = "init"
	ExportShutdown = "shutdown"
	ExportGetInfo  = "get_info"

	HostLogDebug        = "log_debug"
	HostLogInfo         = "log_info"
	HostLogWarn         = "log_warn"
	HostLogError        = "log_error"
	HostPluginLog       = "plugin_log"
	HostCheckCapability = "check_capability"
	HostGetTelemetry    = "get_telemetry"
	HostGetTimestampUs  = "get_timestamp_us"
)

// Return codes of host functions.
const (
	RCSuccess          int32 = 0
	RCError            int32 = -1
	RCInvalidArg       int32 = -2
	RCPermissionDenied int32 = -3
	RCBufferTooSmall   int32 = -4
	RCNotInitialized   int32 = -5
)

// LogLevel is the level argument of plugin_log.
type LogLevel int32

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

// ExportValidation records which ABI exports a WASM module provides.
type ExportValidation struct {
	HasProcess  bool
	HasMemory   bool
	HasInit     bool
	HasShutdown bool
	HasGetInfo  bool
}

// IsValid reports whether the required exports are present.
func (v ExportValidation) IsValid() bool {
	return v.HasProcess && v.HasMemory
}

// MissingRequired names absent required exports.
func (v ExportValidation) MissingRequired() []string {
	var missing []string
	if !v.HasProcess {
		missing = append(missing, ExportProcess)
	}
	if !v.HasMemory {
		missing = append(missing, ExportMemory)
	}
	return missing
}

// PluginInfo is what get_info reports.
type PluginInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Description string `json:"description"`
	ABIVersion  uint32 `json:"abi_version"`
}
