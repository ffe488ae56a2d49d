// Package rangefinder reads distances from an ultrasonic range sensor.
package rangefinder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// NoEcho is reported when nothing is in range or the sensor is disconnected.
const NoEcho = 255

type Sensor interface {
	// Distance returns the most recent distance in centimeters.
	Distance() int
}

// Serial is a range sensor that prints one reading per line, e.g. "D123".
type Serial struct {
	mu       sync.Mutex
	distance int
	updated  time.Time
}

// MaxAge is how long a reading is trusted before NoEcho is reported.
const MaxAge = 2 * time.Second

func Open(ctx context.Context, port string, baud int) *Serial {
	s := &Serial{distance: NoEcho}
	go s.reconnectLoop(ctx, port, baud)
	return s
}

func (s *Serial) reconnectLoop(ctx context.Context, port string, baud int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		c := &serial.Config{Name: port, Baud: baud, ReadTimeout: time.Second}
		p, err := serial.OpenPort(c)
		if err != nil {
			log.Printf("opening %q: %v", port, err)
			continue
		}
		log.Printf("opened %q", port)
		done := make(chan struct{})
		go func() {
			// Unblock watch when ctx is canceled.
			select {
			case <-ctx.Done():
			case <-done:
			}
			p.Close()
		}()
		if err := s.watch(p); err != nil {
			log.Printf("reading %q: %v", port, err)
		}
		close(done)
	}
}

func (s *Serial) watch(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if err := s.parseInput(input); err != nil {
			log.Printf("parsing %q: %v", input, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return io.EOF
}

func (s *Serial) parseInput(input string) error {
	if input[0] != 'D' {
		return errors.New("unknown sensor output")
	}
	d, err := strconv.Atoi(input[1:])
	if err != nil {
		return err
	}
	if d < 0 || d > NoEcho {
		d = NoEcho
	}
	s.mu.Lock()
	s.distance = d
	s.updated = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Serial) Distance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.updated) > MaxAge {
		return NoEcho
	}
	return s.distance
}

// Fixed is a sensor whose reading is set by the caller.
type Fixed struct {
	mu       sync.Mutex
	distance int
}

func NewFixed(distance int) *Fixed {
	return &Fixed{distance: distance}
}

func (f *Fixed) Set(distance int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.distance = distance
}

func (f *Fixed) Distance() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.distance
}
