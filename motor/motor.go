package motor

// Motor is a regulated motor with a rotation accumulator.
type Motor interface {
	// ResetPosition zeroes the rotation accumulator.
	ResetPosition()
	// RotateTo starts a move to an absolute position in degrees and returns immediately.
	RotateTo(degrees float64)
	// Rotate starts a move relative to the current position and returns immediately.
	Rotate(delta float64)
	// Position returns the cumulative signed rotation since the last reset.
	Position() float64
	// Moving indicates whether a commanded move has not yet completed.
	Moving() bool
	Stop()
}

type Status struct {
	Position float64
	Target   float64
	Velocity float64
	Moving   bool
	Stalled  bool
}

type StatusCallback func(status Status)
