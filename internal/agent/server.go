package agent

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/google/uuid"

	"github.com/jihwankim/fuzzcore/internal/classify"
	"github.com/jihwankim/fuzzcore/internal/emergency"
	"github.com/jihwankim/fuzzcore/internal/faultcore"
	"github.com/jihwankim/fuzzcore/internal/feedback"
	"github.com/jihwankim/fuzzcore/internal/forkserver"
	"github.com/jihwankim/fuzzcore/internal/metrics"
	"github.com/jihwankim/fuzzcore/internal/obslog"
	"github.com/jihwankim/fuzzcore/internal/str"
)

// maxConsistencyRetries bounds the P[0]==sum(P[1..K)) retry loop per §7:
// ten attempts, then the process aborts naming the offending input.
const maxConsistencyRetries = 10

// Executor is the subset of *forkserver.Forkserver the driver loop needs,
// narrowed to an interface so the loop can be exercised with a fake target
// in tests.
type Executor interface {
	Run(prevTimedOut bool) (forkserver.Fault, error)
}

// Server is the single-threaded, single-connection-at-a-time TCP agent.
type Server struct {
	fs           Executor
	region       *str.Region
	virgin       *str.Virgin
	max          *str.MaxCounters
	testcasePath string
	logger       *obslog.Logger
	collector    *metrics.Collector
	ctl          *emergency.Controller

	prevTimedOut bool
}

// Config wires a Server to the rest of the session.
type Config struct {
	Forkserver   Executor
	Region       *str.Region
	Virgin       *str.Virgin
	Max          *str.MaxCounters
	TestcasePath string
	Logger       *obslog.Logger
	Collector    *metrics.Collector
	Controller   *emergency.Controller
}

// New builds a Server from cfg.
func New(cfg Config) *Server {
	return &Server{
		fs:           cfg.Forkserver,
		region:       cfg.Region,
		virgin:       cfg.Virgin,
		max:          cfg.Max,
		testcasePath: cfg.TestcasePath,
		logger:       cfg.Logger,
		collector:    cfg.Collector,
		ctl:          cfg.Controller,
	}
}

// Serve listens on addr and handles connections one at a time until ctx is
// done or the emergency controller's stop channel closes. It returns a
// *faultcore.FatalError if a connection hit a process-ending condition
// (spec.md §7: a consistency check that never settled), so the caller can
// run cleanup before exiting non-zero.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	defer ln.Close()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctl.StopChannel():
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctl.StopSoon() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if err := s.handleConn(conn); err != nil {
			return err
		}
		if s.ctl.StopSoon() || ctx.Err() != nil {
			return nil
		}
	}
}

// handleConn resets the process-wide virgin bitmap and running maximum for
// the new session, then serially processes one frame per iteration until
// the peer closes or the process is asked to stop. It returns a
// *faultcore.FatalError if a run hit a process-ending condition.
func (s *Server) handleConn(conn net.Conn) error {
	defer conn.Close()
	sessionID := uuid.NewString()
	s.logger.Info("agent connection opened", "session", sessionID, "remote", conn.RemoteAddr().String())
	defer s.logger.Info("agent connection closed", "session", sessionID)

	s.virgin.Reset()
	s.max.Reset()
	s.prevTimedOut = false

	for {
		if s.ctl.StopSoon() {
			return nil
		}
		reqBuf, err := readFrame(conn)
		if err != nil {
			return nil // peer closed, or a short/garbled frame — end the session
		}

		req, err := DecodeFrame(reqBuf)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		reply, err := s.runOne(req)
		if err != nil {
			s.logger.Error("run failed, aborting", "session", sessionID, "error", err)
			return faultcore.Fatal(fmt.Errorf("session %s: %w", sessionID, err))
		}

		reply.EncodeHeaderInto(reqBuf)
		if err := writeFrame(conn, reqBuf); err != nil {
			return nil
		}
	}
}

// runOne copies the input to the testcase file, executes it, resolves any
// consistency mismatch, and computes the feedback fields for a non-warmup
// run. It always returns a frame to send back, even when the run crashed,
// timed out, or failed to exec.
func (s *Server) runOne(req Frame) (Frame, error) {
	if s.ctl.TakeSkip() {
		s.logger.Info("run skipped via SIGUSR1")
		return Frame{RunType: req.RunType, Input: req.Input}, nil
	}

	if err := os.WriteFile(s.testcasePath, req.Input, 0644); err != nil {
		return Frame{}, fmt.Errorf("writing testcase: %w", err)
	}

	fault, err := s.fs.Run(s.prevTimedOut)
	if err != nil {
		return Frame{}, fmt.Errorf("executing target: %w", err)
	}
	s.prevTimedOut = fault == forkserver.Timeout

	if fault != forkserver.Ok {
		s.logger.Warn("run did not complete cleanly", "fault", fault.String())
	}

	if err := s.resolveConsistency(req.Input); err != nil {
		return Frame{}, err
	}
	classify.Counts(s.region.Cover)

	reply := Frame{RunType: req.RunType, Input: req.Input, ExecCost: s.region.PerfAt(0)}

	if !req.IsWarmup() {
		newMax := feedback.HasNewMax(s.region, s.max)
		reply.HasNewMax = newMax
		reply.Hotspot = feedback.HotspotCount(s.region)
		reply.HasNewBits = uint32(feedback.HasNewBits(s.region.Cover, s.virgin))
	}

	s.collector.RecordRun(outcomeOf(fault), reply.HasNewBits == uint32(feedback.NewEdge), reply.HasNewMax, reply.Hotspot)

	return reply, nil
}

// resolveConsistency re-executes the target, rewriting the testcase each
// time per the open-question decision, until P[0]==sum(P[1..K)) or the
// retry budget is exhausted.
func (s *Server) resolveConsistency(input []byte) error {
	if err := feedback.CheckConsistency(s.region); err == nil {
		return nil
	}
	for attempt := 1; attempt <= maxConsistencyRetries; attempt++ {
		if err := os.WriteFile(s.testcasePath, input, 0644); err != nil {
			return fmt.Errorf("rewriting testcase for retry %d: %w", attempt, err)
		}
		if _, err := s.fs.Run(s.prevTimedOut); err != nil {
			return fmt.Errorf("re-executing target on retry %d: %w", attempt, err)
		}
		if err := feedback.CheckConsistency(s.region); err == nil {
			return nil
		}
	}
	return fmt.Errorf("consistency check failed after %d retries for input %q", maxConsistencyRetries, input)
}

func outcomeOf(f forkserver.Fault) metrics.Outcome {
	switch f {
	case forkserver.Crash:
		return metrics.OutcomeCrash
	case forkserver.Timeout:
		return metrics.OutcomeTimeout
	case forkserver.ExecFail:
		return metrics.OutcomeExecFail
	default:
		return metrics.OutcomeOk
	}
}
