package gun

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/w1xm/sentrygun/motor"
)

const (
	// DefaultDegreesPerRound is half a turn: the two pistons are out of
	// phase, so each turn of the motor fires two rounds.
	DefaultDegreesPerRound = 180

	DefaultPollInterval = 200 * time.Millisecond
	DefaultIdleTimeout  = 250 * time.Millisecond
	DefaultParkTimeout  = 2 * time.Second
)

// Mechanism drives the firing motor. Rounds requested with FireRounds are
// fired by a single goroutine running Run.
//
// Rounds are counted from the motor's rotation, not from elapsed time.
// There is no stall detection: if the motor cannot reach its target the
// pass never completes and the mechanism stays firing.
type Mechanism struct {
	// PollInterval is the delay between iterations of a pass.
	PollInterval time.Duration
	// IdleTimeout bounds how long an idle mechanism waits for a wake signal
	// before checking the queue again.
	IdleTimeout time.Duration
	// ParkTimeout bounds how long a finished pass waits for the motor to
	// settle on a round boundary.
	ParkTimeout time.Duration

	motor           motor.Motor
	degreesPerRound float64
	q               *queue
	onChange        func()
}

func NewMechanism(m motor.Motor, degreesPerRound float64) (*Mechanism, error) {
	if degreesPerRound <= 0 {
		return nil, ErrBadDegreesPerRound
	}
	return &Mechanism{
		PollInterval:    DefaultPollInterval,
		IdleTimeout:     DefaultIdleTimeout,
		ParkTimeout:     DefaultParkTimeout,
		motor:           m,
		degreesPerRound: degreesPerRound,
		q:               newQueue(),
	}, nil
}

// FireRounds queues n rounds to be fired and returns immediately.
// It does not check the magazine; see Gun.FireRounds.
func (m *Mechanism) FireRounds(n int) error {
	m.q.mu.Lock()
	err := m.q.request(n)
	m.q.mu.Unlock()
	if err == nil && n > 0 {
		m.notify()
	}
	return err
}

// QueuedRounds returns the rounds requested but not yet fired.
func (m *Mechanism) QueuedRounds() int {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	return m.q.queued + m.q.pending
}

func (m *Mechanism) IsFiring() bool {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	return m.q.firing
}

func (m *Mechanism) notify() {
	if m.onChange != nil {
		m.onChange()
	}
}

// Run fires queued rounds until ctx is canceled. The current iteration is
// completed before returning, but Run does not wait for the motor to stop.
func (m *Mechanism) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !m.begin() {
			select {
			case <-ctx.Done():
			case <-m.q.wake:
			case <-time.After(m.IdleTimeout):
			}
			continue
		}
		m.notify()
		m.motor.ResetPosition()
		if err := m.fire(ctx); err != nil {
			log.Printf("firing interrupted: %v", err)
			return err
		}
		if err := m.park(ctx); err != nil {
			log.Printf("parking interrupted: %v", err)
			return err
		}
		m.finish()
		m.notify()
	}
}

// begin starts a pass if rounds are queued.
func (m *Mechanism) begin() bool {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	if m.q.queued == 0 {
		return false
	}
	m.q.baseline = m.q.queued
	m.q.firing = true
	m.q.rotation = 0
	m.q.target = 0
	log.Printf("firing %d rounds", m.q.baseline)
	return true
}

// fire polls the motor until every round of the pass has been fired.
func (m *Mechanism) fire(ctx context.Context) error {
	for {
		target, done := m.update(m.motor.Position())
		m.motor.RotateTo(target)
		m.notify()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.PollInterval):
		}
	}
}

// update recomputes the pass from the motor's rotation r, folding in any
// pending rounds. It returns the absolute rotation to command and whether
// the pass is complete.
func (m *Mechanism) update(r float64) (target float64, done bool) {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	fired := int(math.Floor(r / m.degreesPerRound))
	if fired < 0 {
		fired = 0
	}
	if fired > m.q.baseline {
		fired = m.q.baseline
	}
	if m.q.pending > 0 {
		m.q.baseline += m.q.pending
		m.q.pending = 0
	}
	m.q.queued = m.q.baseline - fired
	m.q.rotation = r
	m.q.target = float64(m.q.baseline) * m.degreesPerRound
	return m.q.target, m.q.queued == 0
}

// park turns the pistons back onto a round boundary so the next pass counts
// from a clean phase.
func (m *Mechanism) park(ctx context.Context) error {
	r := m.motor.Position()
	residual := math.Mod(r, m.degreesPerRound)
	if residual != 0 {
		log.Printf("out by %.1f degrees after pass", residual)
	}
	m.motor.Rotate(-residual)

	deadline := time.After(m.ParkTimeout)
	for m.motor.Moving() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			log.Printf("motor still moving %v after pass; continuing", m.ParkTimeout)
			return nil
		case <-time.After(m.PollInterval):
		}
	}
	return nil
}

// finish ends the pass. Rounds requested while parking start the next pass.
func (m *Mechanism) finish() {
	m.q.mu.Lock()
	defer m.q.mu.Unlock()
	m.q.firing = false
	m.q.baseline = 0
	m.q.queued += m.q.pending
	m.q.pending = 0
	log.Printf("ready")
}
