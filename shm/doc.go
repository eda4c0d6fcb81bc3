// Package shm implements a single-producer single-consumer frame channel
// over a shared memory region.
//
// The region starts with a 32-byte little-endian header followed by
// max_frames slots of frame_size bytes:
//
//	0  u32 version
//	4  u32 producer_seq  (atomic)
//	8  u32 consumer_seq  (atomic)
//	12 u32 frame_size
//	16 u32 max_frames
//	20 u32 shutdown      (atomic, nonzero once signaled)
//	24 8 bytes reserved
//
// Only the producer advances producer_seq and only the consumer advances
// consumer_seq. Both are free-running and wrap at 2^32; the fill level is
// their wrapping difference. A slot is published by the store that advances
// the owning counter, after the frame bytes were copied.
//
// Regions come from NewMemoryRegion for in-process use, or CreateShared and
// OpenShared for a named object under /dev/shm shared between processes.
package shm
