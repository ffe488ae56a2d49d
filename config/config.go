// Package config loads the sentry configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type MotorConfig struct {
	// Port is the serial port of the motor controller. Empty simulates the motor.
	Port    string `yaml:"port" env:"PORT"`
	Baud    int    `yaml:"baud" env:"BAUD"`
	SlaveId byte   `yaml:"slave_id" env:"SLAVE_ID"`
}

type SensorConfig struct {
	// Port is the serial port of the range sensor. Empty simulates a sensor with nothing in range.
	Port string `yaml:"port" env:"PORT"`
	Baud int    `yaml:"baud" env:"BAUD"`
}

type Config struct {
	MagazineSize    int           `yaml:"magazine_size" env:"MAGAZINE_SIZE"`
	DegreesPerRound float64       `yaml:"degrees_per_round" env:"DEGREES_PER_ROUND"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ParkTimeout     time.Duration `yaml:"park_timeout" env:"PARK_TIMEOUT"`

	// Range is the distance in centimeters at which the turret fires.
	Range int `yaml:"range" env:"RANGE"`
	// Scan disables the scan loop when false; the gun can still be fired remotely.
	Scan bool `yaml:"scan" env:"SCAN"`

	FiringMotor MotorConfig  `yaml:"firing_motor" envPrefix:"FIRING_MOTOR_"`
	PanMotor    MotorConfig  `yaml:"pan_motor" envPrefix:"PAN_MOTOR_"`
	Sensor      SensorConfig `yaml:"sensor" envPrefix:"SENSOR_"`

	Addr        string `yaml:"addr" env:"ADDR"`
	ControlAddr string `yaml:"control_addr" env:"CONTROL_ADDR"`
}

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "SENTRY_"

func Default() Config {
	return Config{
		MagazineSize:    20,
		DegreesPerRound: 180,
		PollInterval:    200 * time.Millisecond,
		IdleTimeout:     250 * time.Millisecond,
		ParkTimeout:     2 * time.Second,
		Range:           150,
		Scan:            true,
		FiringMotor:     MotorConfig{Baud: 19200, SlaveId: 1},
		PanMotor:        MotorConfig{Baud: 19200, SlaveId: 2},
		Sensor:          SensorConfig{Baud: 9600},
		Addr:            "127.0.0.1:8503",
		ControlAddr:     "127.0.0.1:4534",
	}
}

// Load returns the defaults, overridden by the YAML file at path (if not
// empty) and then by SENTRY_* environment variables.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return c, err
		}
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return c, fmt.Errorf("parsing %q: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&c, env.Options{Prefix: EnvPrefix}); err != nil {
		return c, fmt.Errorf("reading environment: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.MagazineSize < 0 {
		return fmt.Errorf("magazine_size %d is negative", c.MagazineSize)
	}
	if c.DegreesPerRound <= 0 {
		return fmt.Errorf("degrees_per_round %v must be positive", c.DegreesPerRound)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval %v must be positive", c.PollInterval)
	}
	return nil
}
