// Package native loads in-process plugins from shared libraries.
//
// Loading runs the signature policy first, then opens the library, binds
// the table returned by get_plugin_vtable and requires its ABI version to
// equal abi.CurrentABIVersion exactly. The plugin state comes from the
// table's create function; a null state fails the load.
//
// Calls cannot be interrupted. A call that overruns its budget still
// completes and is then reported as a budget violation, which the Host
// forwards to the watchdog.
package native
