package modbus

import (
	"context"
	"encoding/binary"
	"log"
	"time"

	"github.com/goburrow/modbus"
)

// Client is a Modbus RTU client that reconnects to its serial port and
// calls Poll in a loop while connected.
type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// PollInterval is the delay between calls to Poll.
	PollInterval time.Duration

	// Poll function to be called in a loop while the connection is active
	Poll func() error

	handler *modbus.RTUClientHandler
	modbus.Client
}

func (c *Client) Connect(ctx context.Context) error {
	if c.BaudRate == 0 {
		c.BaudRate = 19200
	}
	handler := modbus.NewRTUClientHandler(c.Port)
	handler.BaudRate = c.BaudRate
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = 1 * time.Second
	handler.SlaveId = c.SlaveId
	c.handler = handler
	c.Client = modbus.NewClient(c.handler)
	go c.reconnectLoop(ctx)
	return nil
}

func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}

		err := c.handler.Connect()
		if err != nil {
			log.Printf("opening %q: %v", c.Port, err)
			continue
		}
		log.Printf("opened %q", c.Port)
		if err := c.watch(ctx); err != nil {
			log.Printf("watching %q: %v", c.Port, err)
		}
	}
}

func (c *Client) watch(ctx context.Context) error {
	defer c.handler.Close()
	for {
		if err := c.Poll(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.PollInterval):
		}
	}
}

// WriteRegisters writes consecutive holding registers starting at address.
func (c *Client) WriteRegisters(address uint16, values ...uint16) error {
	_, err := c.WriteMultipleRegisters(address, uint16(len(values)), Uint16sToBytes(values))
	return err
}

func Uint16sToBytes(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// Int32ToRegisters splits v into high and low registers.
func Int32ToRegisters(v int32) (uint16, uint16) {
	return uint16(uint32(v) >> 16), uint16(uint32(v))
}

// BytesToInt32 decodes a big-endian high/low register pair.
func BytesToInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}
