package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/w1xm/sentrygun/gun"
	"github.com/w1xm/sentrygun/motor"
	"github.com/w1xm/sentrygun/scan"
)

type Status struct {
	Gun         gun.Status
	Scan        scan.Status
	FiringMotor motor.Status
	PanMotor    motor.Status
}

type Server struct {
	g    *gun.Gun
	quit func()

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     Status
	// statusSeq is incremented on every status change.
	statusSeq uint64
}

func NewServer(quit func()) *Server {
	s := &Server{quit: quit}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) currentStatus() (Status, uint64) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status, s.statusSeq
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	status, _ := s.currentStatus()
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		log.Print(err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

type FireResponse struct {
	Requested int `json:"requested"`
	Accepted  int `json:"accepted"`
}

func (s *Server) FireHandler(w http.ResponseWriter, r *http.Request) {
	rounds := 1
	if v := r.FormValue("rounds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "bad rounds", http.StatusBadRequest)
			return
		}
		rounds = n
	}
	accepted, err := s.g.FireRounds(rounds)
	switch {
	case errors.Is(err, gun.ErrNegativeRounds):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, gun.ErrShutdown):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, FireResponse{Requested: rounds, Accepted: accepted})
}

func (s *Server) ReloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.g.Reload(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	status, _ := s.currentStatus()
	writeJSON(w, status)
}

type Command struct {
	Command string `json:"command"`
	Rounds  int    `json:"rounds"`
}

func (s *Server) runCommand(msg Command) error {
	switch msg.Command {
	case "fire":
		_, err := s.g.FireRounds(msg.Rounds)
		return err
	case "fire_single":
		s.g.FireSingleRound()
	case "reload":
		return s.g.Reload()
	default:
		return errors.New("unknown command")
	}
	return nil
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	defer conn.Close()

	// Read and process incoming messages
	go func() {
		defer func() {
			cancel()
			// Wake the sender so it sees ctx is done.
			s.statusMu.Lock()
			s.statusCond.Broadcast()
			s.statusMu.Unlock()
		}()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if err := s.runCommand(msg); err != nil {
				log.Printf("%v: command %q: %v", conn.RemoteAddr(), msg.Command, err)
			}
		}
	}()

	status, seq := s.currentStatus()
	for {
		data, err := json.Marshal(status)
		if err != nil {
			log.Print(err)
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Print(err)
			return
		}
		s.statusMu.RLock()
		for s.statusSeq == seq && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		status, seq = s.status, s.statusSeq
		s.statusMu.RUnlock()
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) updateStatus(update func(status *Status)) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	update(&s.status)
	s.statusSeq++
	s.statusCond.Broadcast()
}

func (s *Server) gunCallback(status gun.Status) {
	s.updateStatus(func(st *Status) { st.Gun = status })
}

func (s *Server) scanCallback(status scan.Status) {
	s.updateStatus(func(st *Status) { st.Scan = status })
}

func (s *Server) firingMotorCallback(status motor.Status) {
	s.updateStatus(func(st *Status) { st.FiringMotor = status })
}

func (s *Server) panMotorCallback(status motor.Status) {
	s.updateStatus(func(st *Status) { st.PanMotor = status })
}
