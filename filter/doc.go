// Package filter defines the force-feedback node kinds and their per-tick math.
//
// A Node carries a Kind and the parameters used to seed its state. The
// pipeline lays every node's state out in one contiguous []float32 arena and
// calls Step with the node's slice, so state is plain data and a chain can be
// reset or copied without touching the nodes themselves.
package filter
