// Package scan sweeps the turret back and forth and fires at anything in range.
package scan

import (
	"context"
	"log"
	"time"

	"github.com/w1xm/sentrygun/motor"
	"github.com/w1xm/sentrygun/rangefinder"
)

const (
	DefaultTick  = 50 * time.Millisecond
	DefaultRange = 150
	// DefaultLimit is the sweep limit either side of the start position, in degrees.
	DefaultLimit = 720
	// Reverse within this many degrees of the limit.
	limitTolerance = 5
)

// Gun is the part of gun.Gun used by the scanner.
type Gun interface {
	IsFiring() bool
	IsEmpty() bool
	FireSingleRound() bool
}

type Direction int

const (
	Clockwise Direction = iota
	AntiClockwise
)

func (d Direction) String() string {
	if d == AntiClockwise {
		return "anticlockwise"
	}
	return "clockwise"
}

type Status struct {
	Distance  int
	Angle     float64
	Direction string
	Sweeping  bool
	// Contact is true while something is in range.
	Contact bool
	Shots   int
}

type StatusCallback func(status Status)

type Scanner struct {
	Tick  time.Duration
	Range int
	Limit float64

	gun            Gun
	pan            motor.Motor
	sensor         rangefinder.Sensor
	statusCallback StatusCallback

	direction Direction
	shots     int
	last      Status
}

func New(g Gun, pan motor.Motor, sensor rangefinder.Sensor, statusCallback StatusCallback) *Scanner {
	return &Scanner{
		Tick:           DefaultTick,
		Range:          DefaultRange,
		Limit:          DefaultLimit,
		gun:            g,
		pan:            pan,
		sensor:         sensor,
		statusCallback: statusCallback,
	}
}

// Run scans until ctx is canceled, then starts returning the turret to its
// start position. It does not wait for the turret to get there.
func (s *Scanner) Run(ctx context.Context) error {
	s.pan.ResetPosition()
	t := time.NewTicker(s.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Print("scan stopped; returning to 0")
			s.pan.RotateTo(0)
			return ctx.Err()
		case <-t.C:
		}
		s.step()
	}
}

func (s *Scanner) step() {
	// Hold still while firing or waiting for a reload.
	sweeping := !s.gun.IsFiring() && !s.gun.IsEmpty()
	angle := s.pan.Position()
	if sweeping {
		switch {
		case s.direction == Clockwise && angle > s.Limit-limitTolerance:
			s.direction = AntiClockwise
		case s.direction == AntiClockwise && angle < -s.Limit+limitTolerance:
			s.direction = Clockwise
		}
		if s.direction == Clockwise {
			s.pan.RotateTo(s.Limit)
		} else {
			s.pan.RotateTo(-s.Limit)
		}
	}

	distance := s.sensor.Distance()
	contact := distance < s.Range
	if contact {
		// Hold position and shoot.
		s.pan.Stop()
		if s.gun.FireSingleRound() {
			s.shots++
			log.Printf("contact at %dcm, %.0f degrees; firing", distance, angle)
		}
	}

	status := Status{
		Distance:  distance,
		Angle:     angle,
		Direction: s.direction.String(),
		Sweeping:  sweeping,
		Contact:   contact,
		Shots:     s.shots,
	}
	if status != s.last {
		s.last = status
		if s.statusCallback != nil {
			s.statusCallback(status)
		}
	}
}
