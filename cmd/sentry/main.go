package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/w1xm/sentrygun/config"
	"github.com/w1xm/sentrygun/gun"
	"github.com/w1xm/sentrygun/motor"
	"github.com/w1xm/sentrygun/motor/modbusmotor"
	"github.com/w1xm/sentrygun/motor/simulator"
	"github.com/w1xm/sentrygun/rangefinder"
	"github.com/w1xm/sentrygun/scan"
	"golang.org/x/sync/errgroup"
)

var (
	configPath  = flag.String("config", "", "YAML configuration file")
	addr        = flag.String("addr", "", "address to listen on (overrides config)")
	controlAddr = flag.String("control_addr", "", "address for the control protocol (overrides config)")
	staticDir   = flag.String("static_dir", "static", "directory containing static files")
)

func openMotor(ctx context.Context, g *errgroup.Group, name string, c config.MotorConfig, statusCallback motor.StatusCallback) (motor.Motor, error) {
	if c.Port == "" {
		log.Printf("%s motor: simulated", name)
		sim := simulator.New(name, statusCallback)
		g.Go(func() error { return sim.Run(ctx) })
		return sim, nil
	}
	return modbusmotor.Connect(ctx, name, c.Port, c.Baud, c.SlaveId, statusCallback)
}

func openSensor(ctx context.Context, c config.SensorConfig) rangefinder.Sensor {
	if c.Port == "" {
		log.Print("range sensor: simulated, nothing in range")
		return rangefinder.NewFixed(rangefinder.NoEcho)
	}
	return rangefinder.Open(ctx, c.Port, c.Baud)
}

// shutdown stops the gun and waits for the turret to stop moving.
func shutdown(g *gun.Gun, pan motor.Motor) {
	log.Print("gun >> stop")
	if err := g.Shutdown(); err != nil {
		log.Printf("stopping gun: %v", err)
	}
	log.Print("pan >> 0")
	deadline := time.After(10 * time.Second)
	for pan.Moving() {
		select {
		case <-deadline:
			log.Print("pan motor still moving; giving up")
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	log.Print("system inactive")
}

func main() {
	flag.Parse()
	c, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *addr != "" {
		c.Addr = *addr
	}
	if *controlAddr != "" {
		c.ControlAddr = *controlAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx, quit := context.WithCancel(ctx)
	defer quit()

	// Motors outlive the scan loop and the gun so they can be parked on shutdown.
	motorCtx, stopMotors := context.WithCancel(context.Background())
	motors, motorCtx := errgroup.WithContext(motorCtx)

	s := NewServer(quit)
	firing, err := openMotor(motorCtx, motors, "firing", c.FiringMotor, s.firingMotorCallback)
	if err != nil {
		log.Fatalf("opening firing motor: %v", err)
	}
	pan, err := openMotor(motorCtx, motors, "pan", c.PanMotor, s.panMotorCallback)
	if err != nil {
		log.Fatalf("opening pan motor: %v", err)
	}
	sensor := openSensor(runCtx, c.Sensor)

	g, err := gun.New(context.Background(), firing, gun.Config{
		MagazineSize:    c.MagazineSize,
		DegreesPerRound: c.DegreesPerRound,
		PollInterval:    c.PollInterval,
		IdleTimeout:     c.IdleTimeout,
		ParkTimeout:     c.ParkTimeout,
	}, s.gunCallback)
	if err != nil {
		log.Fatalf("starting gun: %v", err)
	}
	s.g = g

	group, groupCtx := errgroup.WithContext(runCtx)
	if c.Scan {
		sc := scan.New(g, pan, sensor, s.scanCallback)
		sc.Range = c.Range
		group.Go(func() error { return sc.Run(groupCtx) })
	}
	if err := s.ListenControl(groupCtx, c.ControlAddr); err != nil {
		log.Fatalf("listening for control connections: %v", err)
	}

	r := mux.NewRouter()
	r.Handle("/api/status", http.HandlerFunc(s.StatusHandler)).Methods("GET")
	r.Handle("/api/fire", http.HandlerFunc(s.FireHandler)).Methods("POST")
	r.Handle("/api/reload", http.HandlerFunc(s.ReloadHandler)).Methods("POST")
	r.Handle("/api/ws", http.HandlerFunc(s.StatusSocketHandler))
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(*staticDir)))
	srv := &http.Server{
		Handler:      r,
		Addr:         c.Addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	group.Go(func() error {
		<-groupCtx.Done()
		return srv.Shutdown(context.Background())
	})
	group.Go(func() error {
		log.Printf("Listening on %v", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Print(err)
	}
	shutdown(g, pan)
	stopMotors()
	if err := motors.Wait(); err != nil && err != context.Canceled {
		log.Print(err)
	}
}
