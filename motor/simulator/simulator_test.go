package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/w1xm/sentrygun/motor"
)

var _ motor.Motor = (*Simulator)(nil)

func run(s *Simulator, steps int) {
	for i := 0; i < steps; i++ {
		s.step(stepSize.Seconds())
	}
}

func TestRotateTo(t *testing.T) {
	for _, test := range []struct {
		name   string
		start  float64
		target float64
	}{
		{"forward", 0, 900},
		{"backward", 360, -180},
		{"small", 0, 2},
		{"none", 0, 0},
	} {
		t.Run(test.name, func(t *testing.T) {
			s := New("test", nil)
			s.RotateTo(test.start)
			run(s, 400)
			s.RotateTo(test.target)
			run(s, 400)
			if got := s.Position(); got != test.target {
				t.Errorf("Position() = %v, want %v", got, test.target)
			}
			if s.Moving() {
				t.Error("still moving after reaching target")
			}
		})
	}
}

func TestRotateRelative(t *testing.T) {
	s := New("test", nil)
	s.RotateTo(100)
	run(s, 400)
	s.Rotate(-10)
	run(s, 400)
	if got, want := s.Position(), 90.0; got != want {
		t.Errorf("Position() = %v, want %v", got, want)
	}
}

func TestResetPosition(t *testing.T) {
	s := New("test", nil)
	s.RotateTo(200)
	run(s, 400)
	s.ResetPosition()
	if got := s.Position(); got != 0 {
		t.Errorf("Position() after reset = %v, want 0", got)
	}
	s.RotateTo(180)
	run(s, 400)
	if got := s.Position(); got != 180 {
		t.Errorf("Position() = %v, want 180", got)
	}
}

func TestStalled(t *testing.T) {
	s := New("test", nil)
	s.RotateTo(90)
	run(s, 2)
	s.SetStalled(true)
	before := s.Position()
	run(s, 100)
	if got := s.Position(); got != before {
		t.Errorf("stalled motor moved from %v to %v", before, got)
	}
	if !s.Moving() {
		t.Error("stalled motor should still report a pending move")
	}
	s.SetStalled(false)
	run(s, 400)
	if got := s.Position(); got != 90 {
		t.Errorf("Position() after unstall = %v, want 90", got)
	}
}

func TestStop(t *testing.T) {
	s := New("test", nil)
	s.RotateTo(720)
	run(s, 4)
	s.Stop()
	held := s.Position()
	run(s, 100)
	if got := s.Position(); got != held {
		t.Errorf("Position() after stop = %v, want %v", got, held)
	}
	if s.Moving() {
		t.Error("Moving() after stop")
	}
}

func TestStatusCallback(t *testing.T) {
	var got []motor.Status
	s := New("test", func(status motor.Status) {
		got = append(got, status)
	})
	s.RotateTo(10)
	run(s, 400)
	if len(got) == 0 {
		t.Fatal("no status callbacks")
	}
	if last := got[len(got)-1]; last.Position != 10 || last.Moving {
		t.Errorf("last status = %+v, want settled at 10", last)
	}
}

func TestRun(t *testing.T) {
	s := New("test", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error)
	go func() { done <- s.Run(ctx) }()
	s.RotateTo(180)
	for s.Moving() {
		select {
		case <-ctx.Done():
			t.Fatalf("motor did not reach target: %+v", s.Status())
		case <-time.After(stepSize):
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}
