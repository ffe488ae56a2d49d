package gun

import "sync"

// queue holds every round count shared between the gun and its firing mechanism.
// All fields are guarded by mu.
type queue struct {
	mu sync.Mutex

	magazineSize int
	// unqueued rounds are in the magazine but not yet requested.
	unqueued int
	// queued rounds are committed to the current or next pass.
	queued int
	// pending rounds were requested while a pass was in progress and
	// have not yet been folded into baseline.
	pending int
	// baseline is the number of rounds the current pass will fire.
	baseline int
	firing   bool

	rotation, target float64

	// wake is signaled when rounds are queued on an idle mechanism.
	wake chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// request commits n rounds to the mechanism. q.mu must be held.
func (q *queue) request(n int) error {
	if n < 0 {
		return ErrNegativeRounds
	}
	if n == 0 {
		return nil
	}
	if q.firing {
		// Picked up by the next iteration of the running pass.
		q.pending += n
		return nil
	}
	q.queued += n
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// remaining returns the rounds left in the magazine. q.mu must be held.
func (q *queue) remaining() int {
	return q.unqueued + q.queued + q.pending
}

// status returns a snapshot. q.mu must be held.
func (q *queue) status() Status {
	return Status{
		MagazineSize:    q.magazineSize,
		UnqueuedRounds:  q.unqueued,
		QueuedRounds:    q.queued,
		PendingRounds:   q.pending,
		RemainingRounds: q.remaining(),
		Baseline:        q.baseline,
		Firing:          q.firing,
		Rotation:        q.rotation,
		Target:          q.target,
	}
}
