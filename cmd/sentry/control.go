package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/w1xm/sentrygun/gun"
)

// ListenControl accepts connections speaking a line protocol modeled on
// the gun's buttons: fire one round, fire several, reload, and quit.
func (s *Server) ListenControl(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		log.Print("shutdown; closing control socket")
		ln.Close()
	}()
	go s.acceptLoop(ctx, ln)
	return nil
}

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Back off so a persistent error such as EMFILE does not spin.
			delay *= 2
			if delay == 0 {
				delay = minAcceptDelay
			} else if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}
			log.Printf("failed to accept: %v; retrying in %v", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		delay = 0
		go s.handleControl(conn, conn.RemoteAddr().String())
	}
}

const (
	RPRT_OK          = 0
	RPRT_NO_ROUNDS   = -1
	RPRT_FIRING      = -2
	RPRT_INVALID_ARG = -22
	RPRT_UNKNOWN_CMD = -11
)

func (s *Server) handleControl(conn io.ReadWriteCloser, remote string) {
	defer conn.Close()
	log.Printf("accepted connection from %v", remote)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by command name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		if len(cmd) == 0 {
			continue
		} else if len(cmd) > 2 && cmd[0:2] == `+\` {
			extended = true
			parts := strings.Fields(cmd[2:])
			if len(parts) == 0 {
				continue
			}
			cmd = parts[0]
			args = parts[1:]
			fmt.Fprintf(conn, "%s:\n", cmd)
		} else {
			// Space after command is optional.
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = string(cmd[0])
		}
		log.Printf("%v command: %q args: %#v", remote, cmd, args)
		rprt := RPRT_UNKNOWN_CMD
		switch cmd {
		case "f", "fire_single":
			extended = true // always print RPRT
			rprt = RPRT_NO_ROUNDS
			if s.g.FireSingleRound() {
				rprt = RPRT_OK
			}
		case "F", "fire":
			extended = true // always print RPRT
			if len(args) != 1 {
				rprt = RPRT_INVALID_ARG
				break
			}
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				rprt = RPRT_INVALID_ARG
				break
			}
			// Like the fire button: all or nothing.
			if !s.g.HasRounds(n) {
				rprt = RPRT_NO_ROUNDS
				break
			}
			accepted, err := s.g.FireRounds(n)
			if err != nil {
				rprt = RPRT_INVALID_ARG
				break
			}
			fmt.Fprintf(conn, "Accepted: %d\n", accepted)
			rprt = RPRT_OK
		case "R", "reload":
			extended = true // always print RPRT
			rprt = RPRT_OK
			if err := s.g.Reload(); errors.Is(err, gun.ErrReloadWhileFiring) {
				rprt = RPRT_FIRING
			} else if err != nil {
				rprt = RPRT_INVALID_ARG
			}
		case "s", "get_status":
			status := s.g.Status()
			if extended {
				fmt.Fprintf(conn, "Unqueued: %d\nRemaining: %d\nMagazine: %d\nFiring: %t\n",
					status.UnqueuedRounds, status.RemainingRounds, status.MagazineSize, status.Firing)
			} else {
				fmt.Fprintf(conn, "%d\n%d\n%d\n%t\n",
					status.UnqueuedRounds, status.RemainingRounds, status.MagazineSize, status.Firing)
			}
			rprt = RPRT_OK
		case "q", "quit":
			extended = true // always print RPRT
			fmt.Fprintf(conn, "RPRT %d\n", RPRT_OK)
			log.Printf("%v requested shutdown", remote)
			s.quit()
			return
		}
		if extended || rprt != RPRT_OK {
			fmt.Fprintf(conn, "RPRT %d\n", rprt)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("reading from %v: %v", remote, err)
	}
}
