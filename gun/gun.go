package gun

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/w1xm/sentrygun/motor"
)

type Status struct {
	MagazineSize int
	// UnqueuedRounds can still be requested.
	UnqueuedRounds int
	QueuedRounds   int
	PendingRounds  int
	// RemainingRounds is unqueued + queued + pending: every round still in the magazine.
	RemainingRounds int
	// Baseline is the number of rounds the current pass will fire.
	Baseline int
	Firing   bool
	// Rotation and Target are in degrees since the start of the pass.
	Rotation float64
	Target   float64
}

type StatusCallback func(status Status)

type Config struct {
	MagazineSize    int
	DegreesPerRound float64
	// Zero durations use the mechanism defaults.
	PollInterval time.Duration
	IdleTimeout  time.Duration
	ParkTimeout  time.Duration
}

// Gun tracks the magazine and hands rounds to its firing mechanism.
type Gun struct {
	m              *Mechanism
	statusCallback StatusCallback

	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// lastMu serializes status callbacks.
	lastMu sync.Mutex
	last   Status
}

// New starts the firing mechanism for motor m. The magazine starts full.
// The mechanism runs until Shutdown is called or ctx is canceled.
func New(ctx context.Context, m motor.Motor, config Config, statusCallback StatusCallback) (*Gun, error) {
	if config.DegreesPerRound == 0 {
		config.DegreesPerRound = DefaultDegreesPerRound
	}
	mech, err := NewMechanism(m, config.DegreesPerRound)
	if err != nil {
		return nil, err
	}
	if config.PollInterval > 0 {
		mech.PollInterval = config.PollInterval
	}
	if config.IdleTimeout > 0 {
		mech.IdleTimeout = config.IdleTimeout
	}
	if config.ParkTimeout > 0 {
		mech.ParkTimeout = config.ParkTimeout
	}
	g := &Gun{
		m:              mech,
		statusCallback: statusCallback,
		done:           make(chan struct{}),
	}
	if err := g.SetMagazineSize(config.MagazineSize); err != nil {
		return nil, err
	}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	mech.onChange = g.notifyStatus

	ctx, g.cancel = context.WithCancel(ctx)
	go func() {
		defer close(g.done)
		g.err = mech.Run(ctx)
	}()
	return g, nil
}

// Shutdown stops the firing mechanism and waits for it to exit.
// The motor may still be moving when Shutdown returns.
func (g *Gun) Shutdown() error {
	g.cancel()
	<-g.done
	if g.err == context.Canceled {
		return nil
	}
	return g.err
}

// Done is closed once the firing mechanism has exited.
func (g *Gun) Done() <-chan struct{} {
	return g.done
}

// SetMagazineSize changes the magazine size. The unqueued rounds change by
// the same amount, but never below zero.
func (g *Gun) SetMagazineSize(size int) error {
	if size < 0 {
		return ErrNegativeCapacity
	}
	q := g.m.q
	q.mu.Lock()
	difference := q.magazineSize - size
	q.unqueued -= difference
	if q.unqueued < 0 {
		q.unqueued = 0
	}
	q.magazineSize = size
	q.mu.Unlock()
	g.notifyStatus()
	return nil
}

// RemainingRounds returns the live number of rounds left in the magazine,
// including rounds queued for firing.
func (g *Gun) RemainingRounds() int {
	q := g.m.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.remaining()
}

// UnqueuedRounds returns the number of rounds available to be fired.
func (g *Gun) UnqueuedRounds() int {
	q := g.m.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unqueued
}

func (g *Gun) IsEmpty() bool {
	return g.RemainingRounds() == 0
}

// HasRounds reports whether n rounds are available to be fired.
func (g *Gun) HasRounds(n int) bool {
	return n <= g.UnqueuedRounds()
}

func (g *Gun) IsFiring() bool {
	return g.m.IsFiring()
}

func (g *Gun) Status() Status {
	q := g.m.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status()
}

// FireSingleRound queues one round and returns immediately. It returns
// false if the magazine has no unqueued rounds.
func (g *Gun) FireSingleRound() bool {
	n, err := g.FireRounds(1)
	return err == nil && n == 1
}

// FireRounds queues up to n rounds and returns immediately with the number
// of rounds queued, which is less than n if the magazine runs out.
func (g *Gun) FireRounds(n int) (int, error) {
	if n < 0 {
		return 0, ErrNegativeRounds
	}
	select {
	case <-g.done:
		return 0, ErrShutdown
	default:
	}
	q := g.m.q
	q.mu.Lock()
	toFire := n
	if q.unqueued < toFire {
		toFire = q.unqueued
	}
	if toFire == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	if err := q.request(toFire); err != nil {
		q.mu.Unlock()
		return 0, err
	}
	q.unqueued -= toFire
	q.mu.Unlock()
	g.notifyStatus()
	return toFire, nil
}

// Reload tells the gun it has been physically reloaded. Reloading is
// refused while the mechanism is firing.
func (g *Gun) Reload() error {
	q := g.m.q
	q.mu.Lock()
	if q.firing {
		q.mu.Unlock()
		return ErrReloadWhileFiring
	}
	// Rounds queued for a pass that has not started are still in the
	// magazine, so they count against its size.
	q.unqueued = q.magazineSize - q.queued - q.pending
	if q.unqueued < 0 {
		q.unqueued = 0
	}
	q.mu.Unlock()
	log.Printf("reloaded")
	g.notifyStatus()
	return nil
}

func (g *Gun) notifyStatus() {
	if g.statusCallback == nil {
		return
	}
	g.lastMu.Lock()
	defer g.lastMu.Unlock()
	status := g.Status()
	if status != g.last {
		g.last = status
		g.statusCallback(status)
	}
}
