// feedersim - Simulated Feeder Controller
//
// feedersim runs the feeder control loop against an in-memory board
// and serves its line protocol over TCP, standing in for the serial
// gateway in front of the real controller. Point feederd's device
// link at it (tcp://localhost:7060) for development, or drive it by
// hand:
//
//	nc localhost 7060
//	GET:status
//	FEED:s
//
// Multiple clients may connect; every emitted frame goes to all of
// them, and command lines from any client are handled in arrival
// order.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pondlogic/feeder-core/internal/controller"
	"github.com/pondlogic/feeder-core/internal/hal/simboard"
	"github.com/pondlogic/feeder-core/internal/infrastructure/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		listen = flag.String("listen", ":7060", "TCP listen address for the line protocol")
		state  = flag.String("state", "feedersim-state.json", "path to the persisted settings/calibration file")
		weight = flag.Float64("weight", 2.0, "initial hopper load in kilograms")
		noise  = flag.Float64("noise", 2.0, "sensor noise sigma in ADC counts (0 disables)")
		seed   = flag.Int64("seed", 0, "noise generator seed for reproducible runs")
	)
	flag.Parse()

	log := logging.Default()
	log.Info("starting feeder simulator", "version", version, "commit", commit)

	cfg := simboard.DefaultConfig()
	cfg.Seed = *seed
	cfg.InitialWeightKg = *weight
	cfg.NoiseCounts = *noise
	board := simboard.New(cfg)

	clients := newFanout(log)

	ctrl, err := controller.New(board, clients, controller.NewStore(*state))
	if err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}
	ctrl.SetLogger(log)

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", *listen, err)
	}
	log.Info("simulator listening",
		"address", ln.Addr().String(),
		"state", *state,
		"hopper_kg", *weight,
	)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go acceptLoop(ctx, ln, clients, ctrl, log)

	// The control loop blocks until shutdown.
	return ctrl.Run(ctx)
}

// acceptLoop admits TCP clients until the listener closes.
func acceptLoop(ctx context.Context, ln net.Listener, clients *fanout, ctrl *controller.Controller, log *logging.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Error("accept failed", "error", err)
			}
			return
		}
		log.Info("client connected", "remote", conn.RemoteAddr().String())
		go serveConn(conn, clients, ctrl, log)
	}
}

// serveConn feeds one client's lines into the controller until the
// connection drops.
func serveConn(conn net.Conn, clients *fanout, ctrl *controller.Controller, log *logging.Logger) {
	clients.add(conn)
	defer func() {
		clients.remove(conn)
		conn.Close()
		log.Info("client disconnected", "remote", conn.RemoteAddr().String())
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		ctrl.Submit(scanner.Text())
	}
}

// fanout duplicates controller output to every connected client. A
// client whose write fails is dropped; its read side will fail soon
// after and close the connection.
type fanout struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	log   *logging.Logger
}

func newFanout(log *logging.Logger) *fanout {
	return &fanout{conns: make(map[net.Conn]struct{}), log: log}
}

func (f *fanout) add(c net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[c] = struct{}{}
}

func (f *fanout) remove(c net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.conns, c)
}

// Write implements io.Writer for the controller's frame stream.
func (f *fanout) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		if _, err := c.Write(p); err != nil {
			f.log.Debug("client write failed, dropping", "remote", c.RemoteAddr().String(), "error", err)
			delete(f.conns, c)
			c.Close()
		}
	}
	return len(p), nil
}
