// Package modbusmotor drives a regulated motor controller over Modbus RTU.
//
// Register map:
//
//	input 0-1    position, tenths of a degree (int32, high word first)
//	input 2      flags: bit 0 moving, bit 1 stalled
//	holding 0-1  target, tenths of a degree
//	holding 2    command: 0 none, 1 position, 2 stop, 3 reset position
package modbusmotor

import (
	"context"
	"encoding/binary"
	"log"
	"math"
	"sync"
	"time"

	"github.com/w1xm/sentrygun/internal/modbus"
	"github.com/w1xm/sentrygun/motor"
)

const (
	CMD_NONE     uint16 = 0
	CMD_POSITION uint16 = 1
	CMD_STOP     uint16 = 2
	CMD_RESET    uint16 = 3
)

const (
	flagMoving  = 1 << 0
	flagStalled = 1 << 1
)

const pollInterval = 50 * time.Millisecond

type Motor struct {
	name           string
	statusCallback motor.StatusCallback
	mu             sync.Mutex
	client         *modbus.Client
	status         motor.Status
}

func Connect(ctx context.Context, name, port string, baud int, slaveId byte, statusCallback motor.StatusCallback) (*Motor, error) {
	m := &Motor{
		name: name,
		client: &modbus.Client{
			Port:         port,
			BaudRate:     baud,
			SlaveId:      slaveId,
			PollInterval: pollInterval,
		},
		statusCallback: statusCallback,
	}
	m.client.Poll = m.pollOnce
	return m, m.client.Connect(ctx)
}

func (m *Motor) pollOnce() error {
	m.mu.Lock()
	results, err := m.client.ReadInputRegisters(0, 3)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	old := m.status
	m.parseRegisters(results)
	status := m.status
	m.mu.Unlock()
	if status != old && m.statusCallback != nil {
		m.statusCallback(status)
	}
	return nil
}

// parseRegisters updates the status from input registers 0-2. m.mu must be held.
func (m *Motor) parseRegisters(results []byte) {
	m.status.Position = float64(modbus.BytesToInt32(results[0:4])) / 10
	flags := binary.BigEndian.Uint16(results[4:6])
	m.status.Moving = flags&flagMoving != 0
	m.status.Stalled = flags&flagStalled != 0
}

func toRegister(degrees float64) int32 {
	return int32(math.Round(degrees * 10))
}

// command writes the target and command registers. m.mu must be held.
func (m *Motor) command(target float64, cmd uint16) {
	hi, lo := modbus.Int32ToRegisters(toRegister(target))
	if err := m.client.WriteRegisters(0, hi, lo, cmd); err != nil {
		log.Printf("%s: writing command %d: %v", m.name, cmd, err)
	}
}

func (m *Motor) ResetPosition() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command(0, CMD_RESET)
	m.status.Target -= m.status.Position
	m.status.Position = 0
}

func (m *Motor) RotateTo(degrees float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command(degrees, CMD_POSITION)
	m.status.Target = degrees
	// Until the next poll says otherwise.
	m.status.Moving = true
}

func (m *Motor) Rotate(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target := m.status.Position + delta
	m.command(target, CMD_POSITION)
	m.status.Target = target
	m.status.Moving = true
}

func (m *Motor) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Position
}

func (m *Motor) Moving() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Moving
}

func (m *Motor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command(m.status.Position, CMD_STOP)
	m.status.Target = m.status.Position
}

func (m *Motor) Status() motor.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}
