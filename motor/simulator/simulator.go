package simulator

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/w1xm/sentrygun/motor"
)

const (
	// Default maximum acceleration in degrees/second^2
	defaultMaxAccel = 2880
	// Default maximum velocity in degrees/second
	defaultMaxVel = 720
	// Proportional gain of the position servo, 1/second
	servoGain = 8
	// Moves closer than this are considered complete
	tolerance = 0.5
	// Discrete simulation step size
	stepSize = 25 * time.Millisecond
)

type mode int

const (
	modeNone mode = iota
	modePosition
)

// Simulator is a regulated motor that steps its position toward the commanded target.
type Simulator struct {
	Name     string
	MaxVel   float64
	MaxAccel float64

	mu             sync.Mutex
	statusCallback motor.StatusCallback
	mode           mode
	stalled        bool
	pos, vel, tgt  float64
	last           motor.Status
}

func New(name string, statusCallback motor.StatusCallback) *Simulator {
	return &Simulator{
		Name:           name,
		MaxVel:         defaultMaxVel,
		MaxAccel:       defaultMaxAccel,
		statusCallback: statusCallback,
	}
}

// Run steps the simulation until ctx is canceled.
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(stepSize)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		s.step(stepSize.Seconds())
	}
}

// SetStalled simulates a jammed mechanism: while stalled the motor cannot turn.
func (s *Simulator) SetStalled(stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stalled != s.stalled {
		log.Printf("%s: stalled=%v", s.Name, stalled)
	}
	s.stalled = stalled
}

func (s *Simulator) ResetPosition() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tgt -= s.pos
	s.pos = 0
}

func (s *Simulator) RotateTo(degrees float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tgt = degrees
	s.mode = modePosition
}

func (s *Simulator) Rotate(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tgt = s.pos + delta
	s.mode = modePosition
}

func (s *Simulator) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *Simulator) Moving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode == modePosition
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = modeNone
	s.vel = 0
	s.tgt = s.pos
}

func (s *Simulator) Status() motor.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *Simulator) status() motor.Status {
	return motor.Status{
		Position: s.pos,
		Target:   s.tgt,
		Velocity: s.vel,
		Moving:   s.mode == modePosition,
		Stalled:  s.stalled,
	}
}

// posServo returns a target velocity for the given move
func (s *Simulator) posServo(move float64) float64 {
	v := servoGain * move
	return math.Max(-s.MaxVel, math.Min(s.MaxVel, v))
}

// velServo returns an actual velocity for the given current and target velocity
func (s *Simulator) velServo(cur, tgt, dt float64) float64 {
	delta := tgt - cur
	limit := s.MaxAccel * dt
	if delta > limit {
		delta = limit
	} else if delta < -limit {
		delta = -limit
	}
	return cur + delta
}

func (s *Simulator) step(dt float64) {
	s.mu.Lock()
	defer func() {
		status := s.status()
		changed := status != s.last
		s.last = status
		s.mu.Unlock()
		if changed && s.statusCallback != nil {
			s.statusCallback(status)
		}
	}()
	if s.mode != modePosition {
		return
	}
	if s.stalled {
		s.vel = 0
		return
	}
	move := s.tgt - s.pos
	if math.Abs(move) < tolerance {
		s.pos = s.tgt
		s.vel = 0
		s.mode = modeNone
		return
	}
	s.vel = s.velServo(s.vel, s.posServo(move), dt)
	next := s.pos + s.vel*dt
	// Don't overshoot the target within a single step.
	if (move > 0 && next > s.tgt) || (move < 0 && next < s.tgt) {
		next = s.tgt
	}
	s.pos = next
}
