package filter

// Frame is the per-tick working record passed through the node chain.
// Nodes mutate it in place.
type Frame struct {
	FfbIn      float32 // game force-feedback input, nominally [-1, 1]
	TorqueOut  float32 // torque command, [-1, 1] after a successful pass
	WheelSpeed float32 // rad/s
	HandsOff   bool
	TsMonoNs   uint64
	Seq        uint16
}
