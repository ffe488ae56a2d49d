// Command sentry_logger records the sentry status stream in InfluxDB.
package main

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

type settings struct {
	Server string `env:"INFLUX_SERVER" envDefault:"http://localhost:9999"`
	Token  string `env:"INFLUX_TOKEN"`
	Org    string `env:"INFLUX_ORG" envDefault:"w1xm"`
	Bucket string `env:"INFLUX_BUCKET" envDefault:"sentry.raw"`
	// Address is the websocket status stream of the sentry daemon.
	Address        string        `env:"SENTRY_ADDRESS" envDefault:"ws://localhost:8503/api/ws"`
	Measurement    string        `env:"SENTRY_MEASUREMENT" envDefault:"sentry.status"`
	ReconnectDelay time.Duration `env:"SENTRY_RECONNECT_DELAY" envDefault:"1s"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := env.Parse(&s); err != nil {
		return settings{}, fmt.Errorf("parsing environment: %w", err)
	}
	return s, nil
}

func main() {
	s, err := loadSettings()
	if err != nil {
		log.Fatal(err)
	}
	client := influxdb2.NewClient(s.Server, s.Token)
	defer client.Close()
	writeApi := client.WriteApi(s.Org, s.Bucket)
	defer writeApi.Close()
	go func() {
		for err := range writeApi.Errors() {
			log.Printf("write error: %v", err)
		}
	}()
	for {
		if err := logData(s, writeApi); err != nil {
			log.Printf("reading %q: %v", s.Address, err)
		}
		time.Sleep(s.ReconnectDelay)
	}
}

// flattenStatus turns nested JSON into dotted field names, e.g. "Gun.QueuedRounds".
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
	default:
		if prefix == "" {
			return
		}
		fields[prefix[1:]] = status
	}
}

// logData writes one point per status message until the stream fails.
func logData(s settings, writeApi api.WriteApi) error {
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(s.Address, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("connected to %s", s.Address)
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		if len(fields) == 0 {
			continue
		}
		writeApi.WritePoint(influxdb2.NewPoint(s.Measurement, nil, fields, time.Now()))
	}
}
