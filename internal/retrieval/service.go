// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package retrieval serves the completed session log over a local
// network. HTTP handlers run on the server's goroutines but never touch
// storage: each request becomes a job that the control loop executes in
// ServePending, so the log file has a single owner at any time.
package retrieval

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// ErrStopped is returned for requests that were pending when the service stopped.
var ErrStopped = errors.New("retrieval: service stopped")

const (
	LogRoute    = "/shots.csv"
	StreamRoute = "/ws/shots"

	jobQueueSize    = 16
	shutdownTimeout = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Options struct {
	Addr       string
	LogPath    string
	SSID       string
	Passphrase string
}

type jobKind int

const (
	jobFile jobKind = iota
	jobLines
)

type job struct {
	kind  jobKind
	reply chan result // buffered; the loop never blocks on it
}

type result struct {
	status int
	body   []byte
	lines  []string
	err    error
}

// Service owns the access point and HTTP server while active.
type Service struct {
	opts Options
	ap   AccessPoint

	jobs   chan job
	quit   chan struct{}
	srv    *http.Server
	addr   net.Addr
	active bool
}

func NewService(opts Options, ap AccessPoint) *Service {
	return &Service{opts: opts, ap: ap}
}

func (s *Service) Active() bool { return s.active }

// Addr returns the listening address while active.
func (s *Service) Addr() net.Addr { return s.addr }

// Start brings up the network and begins accepting requests.
func (s *Service) Start() error {
	if s.active {
		return nil
	}
	if err := s.ap.Up(s.opts.SSID, s.opts.Passphrase); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		if derr := s.ap.Down(); derr != nil {
			log.Printf("retrieval: %v", derr)
		}
		return fmt.Errorf("retrieval: listen %s: %w", s.opts.Addr, err)
	}

	s.jobs = make(chan job, jobQueueSize)
	s.quit = make(chan struct{})
	s.srv = &http.Server{
		Handler: s.Handler(),
		// "OPTIONS *" is a preflight like any other
		DisableGeneralOptionsHandler: true,
	}
	s.addr = ln.Addr()
	s.active = true

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("retrieval: http server: %v", err)
		}
	}(s.srv)

	log.Printf("retrieval: serving %s on %s", s.opts.LogPath, ln.Addr())
	return nil
}

// Stop fails pending requests with ErrStopped, shuts the server down
// and tears down the network.
func (s *Service) Stop() {
	if !s.active {
		return
	}
	s.active = false
	close(s.quit)
	s.releasePending()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		log.Printf("retrieval: shutdown: %v", err)
	}
	if err := s.ap.Down(); err != nil {
		log.Printf("retrieval: %v", err)
	}
	log.Println("retrieval: stopped")
}

func (s *Service) releasePending() {
	for {
		select {
		case j := <-s.jobs:
			j.reply <- result{status: http.StatusServiceUnavailable, err: ErrStopped}
		default:
			return
		}
	}
}

// ServePending executes every queued request without blocking and
// returns how many ran.
func (s *Service) ServePending() int {
	if !s.active {
		return 0
	}
	n := 0
	for {
		select {
		case j := <-s.jobs:
			j.reply <- s.run(j)
			n++
		default:
			return n
		}
	}
}

func (s *Service) run(j job) result {
	switch j.kind {
	case jobLines:
		var lines []string
		f, err := os.Open(s.opts.LogPath)
		if err != nil {
			return result{status: http.StatusNotFound, err: err}
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		if err := sc.Err(); err != nil {
			return result{status: http.StatusInternalServerError, err: err}
		}
		return result{status: http.StatusOK, lines: lines}
	default:
		body, err := os.ReadFile(s.opts.LogPath)
		if err != nil {
			return result{status: http.StatusNotFound, err: err}
		}
		return result{status: http.StatusOK, body: body}
	}
}

// submit queues a job and waits for the loop to run it.
func (s *Service) submit(ctx context.Context, kind jobKind) result {
	j := job{kind: kind, reply: make(chan result, 1)}
	select {
	case s.jobs <- j:
	case <-s.quit:
		return result{status: http.StatusServiceUnavailable, err: ErrStopped}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
	select {
	case r := <-j.reply:
		return r
	case <-s.quit:
		// Stop drains the queue; a job already taken by the loop has replied
		select {
		case r := <-j.reply:
			return r
		default:
			return result{status: http.StatusServiceUnavailable, err: ErrStopped}
		}
	case <-ctx.Done():
		return result{err: ctx.Err()}
	}
}

// Handler routes requests. Exported for tests.
func (s *Service) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == LogRoute:
			s.handleLog(w, r)
		case r.Method == http.MethodGet && r.URL.Path == StreamRoute:
			s.handleStream(w, r)
		case r.Method == http.MethodOptions:
			setCORS(w.Header())
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "Not Found", http.StatusNotFound)
		}
	})
}

func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Service) handleLog(w http.ResponseWriter, r *http.Request) {
	res := s.submit(r.Context(), jobFile)
	switch {
	case res.status == http.StatusOK:
	case res.status == http.StatusNotFound:
		http.Error(w, "File not found", http.StatusNotFound)
		return
	case res.status == 0:
		return // client went away
	default:
		http.Error(w, res.err.Error(), res.status)
		return
	}

	setCORS(w.Header())
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Length", strconv.Itoa(len(res.body)))
	if _, err := bytes.NewReader(res.body).WriteTo(w); err != nil {
		log.Printf("retrieval: send %s: %v", LogRoute, err)
	}
}

// handleStream sends the log one text message per line, then closes.
func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	res := s.submit(r.Context(), jobLines)
	switch {
	case res.status == http.StatusOK:
	case res.status == http.StatusNotFound:
		http.Error(w, "File not found", http.StatusNotFound)
		return
	case res.status == 0:
		return
	default:
		http.Error(w, res.err.Error(), res.status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("retrieval: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	for _, line := range res.lines {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			log.Printf("retrieval: websocket write error: %v", err)
			return
		}
	}
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "end of log"))
}
