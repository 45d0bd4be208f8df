// Package demo simulates a rotctld-speaking rotator so the daemon, CLI, and
// control loop can be exercised end-to-end without hardware. The simulated
// rotor slews toward its commanded position at a fixed rate per axis.
package demo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/large-farva/rotortrack/internal/rotor"
)

// Hamlib status codes used in RPRT replies.
const (
	rprtOK      = 0
	rprtInvalid = -1
	rprtArgs    = -22
)

// Rotator is the simulated mechanism. Position advances lazily whenever it
// is observed.
type Rotator struct {
	mu sync.Mutex

	azType rotor.AzType
	maxEl  float64
	rate   float64 // degrees per second, each axis

	az, el       float64
	tgtAz, tgtEl float64
	last         time.Time

	now func() time.Time
}

// NewRotator returns a rotor parked at 0/0. rate is the slew rate in degrees
// per second; a non-positive rate moves instantly.
func NewRotator(azType rotor.AzType, maxEl, rate float64) *Rotator {
	return &Rotator{
		azType: azType,
		maxEl:  maxEl,
		rate:   rate,
		now:    time.Now,
		last:   time.Now(),
	}
}

// Position returns the current simulated position in the rotor's own
// azimuth convention.
func (r *Rotator) Position() (az, el float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	return r.az, r.el
}

// Target returns the last commanded position.
func (r *Rotator) Target() (az, el float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tgtAz, r.tgtEl
}

// SetTarget commands a new position. It returns a hamlib status code.
func (r *Rotator) SetTarget(az, el float64) int {
	lo, hi := 0.0, 360.0
	if r.azType == rotor.PlusMinus180 {
		lo, hi = -180, 180
	}
	if az < lo || az > hi || el < 0 || el > r.maxEl {
		return rprtInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	r.tgtAz, r.tgtEl = az, el
	return rprtOK
}

// Stop holds the current position.
func (r *Rotator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.advance()
	r.tgtAz, r.tgtEl = r.az, r.el
}

func (r *Rotator) advance() {
	now := r.now()
	dt := now.Sub(r.last).Seconds()
	r.last = now
	if r.rate <= 0 {
		r.az, r.el = r.tgtAz, r.tgtEl
		return
	}
	r.az = approach(r.az, r.tgtAz, r.rate*dt)
	r.el = approach(r.el, r.tgtEl, r.rate*dt)
}

func approach(cur, tgt, maxStep float64) float64 {
	d := tgt - cur
	if math.Abs(d) <= maxStep {
		return tgt
	}
	return cur + math.Copysign(maxStep, d)
}

// Server answers the rotctld line protocol for one Rotator.
type Server struct {
	Rot *Rotator
	log *slog.Logger
}

// NewServer returns a server for rot.
func NewServer(rot *Rotator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Rot: rot, log: logger.With("component", "demo")}
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		s.log.Info("shutdown; closing rotctld socket")
		ln.Close()
	})
	defer stop()

	s.log.Info("simulated rotctld listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("failed to accept", "err", err)
			continue
		}
		go s.ServeConn(conn)
	}
}

// ServeConn handles one client until it quits or disconnects. Each reply is
// written in a single write.
func (s *Server) ServeConn(conn net.Conn) {
	defer conn.Close()
	log := s.log.With("remote", conn.RemoteAddr().String())
	log.Info("accepted connection")

	scanner := bufio.NewScanner(conn)
	out := bufio.NewWriter(conn)
	for scanner.Scan() {
		// Two forms of command: single character, or "+\" followed by a name.
		cmd := scanner.Text()
		var args []string
		var extended bool
		switch {
		case len(cmd) == 0:
			continue
		case len(cmd) > 2 && cmd[0:2] == `+\`:
			extended = true
			parts := strings.Fields(cmd)
			cmd = parts[0][2:]
			args = parts[1:]
			fmt.Fprintf(out, "%s:\n", cmd)
		default:
			if len(cmd) > 1 {
				args = strings.Fields(cmd[1:])
			}
			cmd = cmd[:1]
		}
		log.Debug("command", "cmd", cmd, "args", args)

		rprt := rprtOK
		switch cmd {
		case "q", "Q", "quit":
			out.Flush()
			return
		case "_", "get_info":
			fmt.Fprintf(out, "Model name: rotsim\n")
		case "S", "stop":
			extended = true // always print RPRT
			s.Rot.Stop()
		case "P", "set_pos":
			extended = true
			rprt = s.setPos(args)
		case "p", "get_pos":
			az, el := s.Rot.Position()
			if extended {
				fmt.Fprintf(out, "Azimuth: %.6f\nElevation: %.6f\n", az, el)
			} else {
				fmt.Fprintf(out, "%.6f\n%.6f\n", az, el)
			}
		default:
			rprt = rprtInvalid
		}
		if extended || rprt != rprtOK {
			fmt.Fprintf(out, "RPRT %d\n", rprt)
		}
		if err := out.Flush(); err != nil {
			log.Warn("write failed", "err", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("read failed", "err", err)
	}
}

func (s *Server) setPos(args []string) int {
	if len(args) != 2 {
		return rprtArgs
	}
	az, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return rprtArgs
	}
	el, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return rprtArgs
	}
	return s.Rot.SetTarget(az, el)
}
