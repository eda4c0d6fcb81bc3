// Package watchdog decides when a misbehaving plugin is taken out of the
// processing path.
//
// A Manager keeps a rolling window of violations per plugin. When the count
// of one kind inside the window reaches the policy threshold the plugin is
// quarantined; each further quarantine doubles the duration up to
// Policy.MaxEscalationLevel doublings. Expiry is evaluated lazily on every
// query, so no background timer is needed. CleanupExpired sweeps in bulk.
//
// FailureTracker and Health are bookkeeping helpers: per-plugin call
// statistics and per-component heartbeats.
package watchdog
