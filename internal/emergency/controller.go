// Package emergency implements the signal-driven cancellation and skip
// controller the main loop consults at every I/O boundary: SIGINT/SIGTERM/
// SIGHUP set the stop_soon flag, SIGUSR1 requests the current run be
// skipped, SIGUSR2 requests an on-demand virgin-bitmap dump, and
// SIGCHLD/SIGWINCH are left unhandled since this core never reaps children
// asynchronously and never resizes a terminal.
package emergency

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jihwankim/fuzzcore/internal/obslog"
)

// Controller tracks the process-wide stop_soon flag and pending skip
// requests, and runs the registered stop/dump callbacks.
type Controller struct {
	mutex         sync.RWMutex
	stopped       bool
	stopCh        chan struct{}
	skip          bool
	callbacks     []func()
	dumpCallbacks []func()
	logger        *obslog.Logger
}

// Option configures a Controller at construction.
type Option func(*Controller)

// WithLogger makes the Controller log the diagnostic reason (the signal
// received, or "manual") whenever a stop is triggered.
func WithLogger(logger *obslog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// New creates a Controller. Call Start to begin listening for signals.
func New(opts ...Option) *Controller {
	c := &Controller{stopCh: make(chan struct{})}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start installs the signal handlers and begins watching for them in a
// background goroutine. The goroutine exits when ctx is done or a stop
// signal is received.
func (c *Controller) Start(ctx context.Context) {
	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	go c.watch(ctx, sigCh)
}

func (c *Controller) watch(ctx context.Context, sigCh chan os.Signal) {
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGUSR1:
				c.RequestSkip()
			case syscall.SIGUSR2:
				c.runDumpCallbacks()
			default:
				c.triggerStop(fmt.Sprintf("signal: %v", sig))
				return
			}
		}
	}
}

func (c *Controller) runDumpCallbacks() {
	c.mutex.RLock()
	callbacks := c.dumpCallbacks
	c.mutex.RUnlock()
	for _, cb := range callbacks {
		cb()
	}
}

// OnBitmapDump registers a callback run whenever SIGUSR2 is received, used
// to write the current virgin bitmap to fuzz_bitmap on demand.
func (c *Controller) OnBitmapDump(callback func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.dumpCallbacks = append(c.dumpCallbacks, callback)
}

// RequestSkip marks the current or next run to be skipped, as SIGUSR1 does.
func (c *Controller) RequestSkip() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.skip = true
}

// TakeSkip reports whether a skip was requested since the last call, and
// clears the flag. SIGUSR1 applies to exactly one in-flight run.
func (c *Controller) TakeSkip() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	skip := c.skip
	c.skip = false
	return skip
}

func (c *Controller) triggerStop(reason string) {
	c.mutex.Lock()
	if c.stopped {
		c.mutex.Unlock()
		return
	}
	c.stopped = true
	callbacks := c.callbacks
	close(c.stopCh)
	c.mutex.Unlock()

	if c.logger != nil {
		c.logger.Warn("stopping", "reason", reason)
	}
	for _, cb := range callbacks {
		cb()
	}
}

// Stop manually triggers the same stop path a signal would, for tests and
// for programmatic shutdown.
func (c *Controller) Stop() {
	c.triggerStop("manual")
}

// StopSoon reports whether a stop has been requested.
func (c *Controller) StopSoon() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.stopped
}

// StopChannel returns a channel closed exactly once, when stop is
// triggered. The main loop selects on it alongside blocking I/O.
func (c *Controller) StopChannel() <-chan struct{} {
	return c.stopCh
}

// OnStop registers a callback run synchronously when stop is triggered.
// cmd/fuzzcore uses this to SIGKILL the forkserver process via
// Forkserver.Stop; the child of an in-flight run is not signalled directly.
func (c *Controller) OnStop(callback func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.callbacks = append(c.callbacks, callback)
}
