package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
	"github.com/w1xm/sentrygun/gun"
	"github.com/w1xm/sentrygun/motor/simulator"
)

// newTestServer returns a server whose firing motor never turns, so any
// requested rounds stay queued.
func newTestServer(t *testing.T) (*Server, chan struct{}) {
	t.Helper()
	quit := make(chan struct{}, 1)
	s := NewServer(func() { quit <- struct{}{} })
	g, err := gun.New(context.Background(), simulator.New("test", nil), gun.Config{
		MagazineSize: 20,
		PollInterval: 5 * time.Millisecond,
	}, s.gunCallback)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Shutdown() })
	s.g = g
	return s, quit
}

func waitFiring(t *testing.T, g *gun.Gun) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !g.IsFiring() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for pass to start")
		}
		time.Sleep(time.Millisecond)
	}
}

type NoopCloser struct {
	io.Reader
	write bytes.Buffer
}

func (nc *NoopCloser) Write(p []byte) (n int, err error) {
	return nc.write.Write(p)
}

func (nc *NoopCloser) Close() error {
	return nil
}

// control runs commands on a control connection and returns the response.
func control(t *testing.T, s *Server, commands ...string) string {
	t.Helper()
	conn := &NoopCloser{
		Reader: strings.NewReader(strings.Join(commands, "\n") + "\n"),
	}
	s.handleControl(conn, "test")
	return conn.write.String()
}

func TestControl(t *testing.T) {
	for _, test := range []struct {
		name     string
		commands []string
		want     string
	}{
		{"fire single", []string{"f"}, "RPRT 0\n"},
		{"fire", []string{"F 5"}, "Accepted: 5\nRPRT 0\n"},
		{"fire extended", []string{`+\fire 5`}, "fire:\nAccepted: 5\nRPRT 0\n"},
		{"fire too many", []string{"F 25"}, "RPRT -1\n"},
		{"fire negative", []string{"F -1"}, "RPRT -22\n"},
		{"fire no args", []string{"F"}, "RPRT -22\n"},
		{"status", []string{"s"}, "20\n20\n20\nfalse\n"},
		{"status extended", []string{`+\get_status`}, "get_status:\nUnqueued: 20\nRemaining: 20\nMagazine: 20\nFiring: false\nRPRT 0\n"},
		{"reload", []string{"R"}, "RPRT 0\n"},
		{"unknown", []string{"x"}, "RPRT -11\n"},
		{"blank", []string{"", `+\ `}, ""},
	} {
		t.Run(test.name, func(t *testing.T) {
			s, _ := newTestServer(t)
			if diff := cmp.Diff(control(t, s, test.commands...), test.want); diff != "" {
				t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestControlReloadWhileFiring(t *testing.T) {
	s, _ := newTestServer(t)
	control(t, s, "F 3")
	waitFiring(t, s.g)
	if diff := cmp.Diff(control(t, s, "R"), "RPRT -2\n"); diff != "" {
		t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
	}
	if got := s.g.UnqueuedRounds(); got != 17 {
		t.Errorf("UnqueuedRounds() = %d, want 17", got)
	}
}

func TestControlQuit(t *testing.T) {
	s, quit := newTestServer(t)
	if diff := cmp.Diff(control(t, s, "q", "f"), "RPRT 0\n"); diff != "" {
		t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
	}
	select {
	case <-quit:
	default:
		t.Error("quit was not called")
	}
	if got := s.g.UnqueuedRounds(); got != 20 {
		t.Errorf("command after quit was run: UnqueuedRounds() = %d", got)
	}
}

func TestFireHandler(t *testing.T) {
	for _, test := range []struct {
		query    string
		wantCode int
		want     FireResponse
	}{
		{"", http.StatusOK, FireResponse{Requested: 1, Accepted: 1}},
		{"?rounds=4", http.StatusOK, FireResponse{Requested: 4, Accepted: 4}},
		{"?rounds=30", http.StatusOK, FireResponse{Requested: 30, Accepted: 20}},
		{"?rounds=-2", http.StatusBadRequest, FireResponse{}},
		{"?rounds=many", http.StatusBadRequest, FireResponse{}},
	} {
		t.Run(test.query, func(t *testing.T) {
			s, _ := newTestServer(t)
			w := httptest.NewRecorder()
			s.FireHandler(w, httptest.NewRequest("POST", "/api/fire"+test.query, nil))
			if w.Code != test.wantCode {
				t.Fatalf("status code = %d, want %d: %s", w.Code, test.wantCode, w.Body)
			}
			if w.Code != http.StatusOK {
				return
			}
			var got FireResponse
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(got, test.want); diff != "" {
				t.Errorf("unexpected response: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestReloadHandler(t *testing.T) {
	s, _ := newTestServer(t)
	w := httptest.NewRecorder()
	s.ReloadHandler(w, httptest.NewRequest("POST", "/api/reload", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", w.Code)
	}

	s.g.FireRounds(2)
	waitFiring(t, s.g)
	w = httptest.NewRecorder()
	s.ReloadHandler(w, httptest.NewRequest("POST", "/api/reload", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("status code while firing = %d, want 409", w.Code)
	}
}

func TestStatusHandler(t *testing.T) {
	s, _ := newTestServer(t)
	s.g.FireRounds(3)
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := httptest.NewRecorder()
		s.StatusHandler(w, httptest.NewRequest("GET", "/api/status", nil))
		var got Status
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if got.Gun.Firing {
			if got.Gun.RemainingRounds != 20 || got.Gun.UnqueuedRounds != 17 || got.Gun.Baseline != 3 {
				t.Errorf("unexpected gun status: %+v", got.Gun)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for firing status: %+v", got.Gun)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStatusSocket(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(http.HandlerFunc(s.StatusSocketHandler))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status Status
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatal(err)
	}
	if status.Gun.UnqueuedRounds != 20 {
		t.Errorf("initial status = %+v", status.Gun)
	}
	if err := conn.WriteJSON(Command{Command: "fire", Rounds: 2}); err != nil {
		t.Fatal(err)
	}
	for status.Gun.UnqueuedRounds != 18 {
		if err := conn.ReadJSON(&status); err != nil {
			t.Fatal(err)
		}
	}
}

// failingListener fails every Accept, as a listener out of file descriptors would.
type failingListener struct {
	accepts int32
}

func (l *failingListener) Accept() (net.Conn, error) {
	atomic.AddInt32(&l.accepts, 1)
	return nil, errors.New("too many open files")
}

func (l *failingListener) Close() error { return nil }

func (l *failingListener) Addr() net.Addr { return &net.TCPAddr{} }

func TestAcceptBacksOff(t *testing.T) {
	s, _ := newTestServer(t)
	ln := &failingListener{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.acceptLoop(ctx, ln)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("accept loop did not exit after cancel")
	}
	// 5+10+20+40ms of backoff fit in 100ms; without backoff this would be thousands.
	if got := atomic.LoadInt32(&ln.accepts); got < 2 || got > 10 {
		t.Errorf("Accept called %d times in 100ms, want between 2 and 10", got)
	}
}
