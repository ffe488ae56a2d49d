package gun

import (
	"sync"

	"github.com/w1xm/sentrygun/motor"
)

// fakeMotor reports whatever position the test sets. With step set, each
// call to Position moves the motor that far toward its target.
type fakeMotor struct {
	mu        sync.Mutex
	pos       float64
	target    float64
	step      float64
	moving    bool
	resets    int
	stops     int
	targets   []float64
	rotations []float64
}

var _ motor.Motor = (*fakeMotor)(nil)

func (f *fakeMotor) ResetPosition() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.target -= f.pos
	f.pos = 0
}

func (f *fakeMotor) RotateTo(degrees float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = degrees
	f.targets = append(f.targets, degrees)
}

func (f *fakeMotor) Rotate(delta float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotations = append(f.rotations, delta)
	f.pos += delta
	f.target = f.pos
}

func (f *fakeMotor) Position() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.step > 0 {
		switch {
		case f.target-f.pos > f.step:
			f.pos += f.step
		case f.pos-f.target > f.step:
			f.pos -= f.step
		default:
			f.pos = f.target
		}
	}
	return f.pos
}

func (f *fakeMotor) Moving() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.moving
}

func (f *fakeMotor) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.target = f.pos
}

func (f *fakeMotor) setPosition(pos float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
}

func (f *fakeMotor) setMoving(moving bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moving = moving
}

func (f *fakeMotor) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

func (f *fakeMotor) lastTarget() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.targets) == 0 {
		return 0
	}
	return f.targets[len(f.targets)-1]
}

func (f *fakeMotor) corrections() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.rotations...)
}
