// Package lifecycle runs the relay's listener and heartbeat scheduler and
// tears them down in order when the process is asked to stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long the listener may take to drain.
const DefaultShutdownTimeout = 10 * time.Second

// Server accepts connections until shut down. *http.Server satisfies it.
type Server interface {
	Serve(net.Listener) error
	Shutdown(context.Context) error
}

// Scheduler is a periodic task that can be stopped and waited for.
type Scheduler interface {
	Run(context.Context)
	Stop()
}

// Connections closes every open peer connection.
type Connections interface {
	CloseAll() int
}

// Controller owns the server, the liveness scheduler and the open
// connections for the life of the process.
type Controller struct {
	server    Server
	scheduler Scheduler
	conns     Connections
	timeout   time.Duration
	log       *logrus.Entry
}

// Option configures a Controller.
type Option func(*Controller)

// WithShutdownTimeout overrides DefaultShutdownTimeout.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Controller.
func New(srv Server, sched Scheduler, conns Connections, opts ...Option) *Controller {
	c := &Controller{
		server:    srv,
		scheduler: sched,
		conns:     conns,
		timeout:   DefaultShutdownTimeout,
		log:       logrus.WithField("component", "lifecycle"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run serves on ln and runs the scheduler until ctx is cancelled or Serve
// returns. Either way it then stops the scheduler, shuts the listener
// and closes every connection, in that order, before returning.
func (c *Controller) Run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	// Serve returning for any reason starts shutdown.
	sctx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", ln.Addr(), err)
		}
		return nil
	})

	g.Go(func() error {
		c.scheduler.Run(sctx)
		return nil
	})

	g.Go(func() error {
		<-sctx.Done()
		return c.shutdown()
	})

	return g.Wait()
}

func (c *Controller) shutdown() error {
	c.log.Info("Shutting down...")

	c.scheduler.Stop()
	c.log.Debug("Heartbeat stopped")

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var err error
	if serr := c.server.Shutdown(ctx); serr != nil {
		c.log.Warnf("HTTP server shutdown error: %v", serr)
		err = fmt.Errorf("shutdown listener: %w", serr)
	}

	closed := c.conns.CloseAll()
	c.log.Infof("Server stopped (%d connections closed)", closed)
	return err
}
