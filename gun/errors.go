package gun

import "errors"

var (
	// ErrNegativeRounds is returned when a negative round count is requested.
	ErrNegativeRounds = errors.New("negative round count")

	// ErrReloadWhileFiring is returned by Reload while a firing pass is in progress.
	ErrReloadWhileFiring = errors.New("cannot reload while firing")

	ErrNegativeCapacity = errors.New("negative magazine size")

	ErrBadDegreesPerRound = errors.New("degrees per round must be positive")

	// ErrShutdown is returned when rounds are requested after Shutdown.
	ErrShutdown = errors.New("gun is shut down")
)
