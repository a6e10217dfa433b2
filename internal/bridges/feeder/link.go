package feeder

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pondlogic/feeder-core/internal/wire"
)

// Device link defaults and limits.
const (
	// defaultConnectTimeout is the per-attempt dial timeout.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout bounds a single frame read. The device emits a
	// DATA frame every couple of seconds, so silence for longer than
	// this means the link is dead even if TCP has not noticed.
	defaultReadTimeout = 30 * time.Second

	// defaultReconnectInitial is the first reconnect backoff delay.
	defaultReconnectInitial = 2 * time.Second

	// defaultReconnectMax caps the reconnect backoff.
	defaultReconnectMax = 60 * time.Second

	// linkWriteTimeout bounds a single line write.
	linkWriteTimeout = 5 * time.Second

	// maxLineLength is the longest line accepted from the device.
	// Anything bigger is a framing failure, not a real frame.
	maxLineLength = 16 * 1024

	// frameQueueSize is the buffer between the read loop and the frame
	// dispatcher. The dispatcher is a single worker so frames are
	// delivered in arrival order.
	frameQueueSize = 256
)

// Logger is the interface for optional structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// LinkConfig holds device link settings.
type LinkConfig struct {
	// URL is the link address, e.g. "tcp://localhost:7060".
	URL string

	// ConnectTimeout is the per-attempt dial timeout.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout bounds a single frame read.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInitial is the first reconnect backoff delay.
	// Default: 2 seconds.
	ReconnectInitial time.Duration

	// ReconnectMax caps the reconnect backoff.
	// Default: 60 seconds.
	ReconnectMax time.Duration
}

// LinkStats holds operational statistics for the device link.
type LinkStats struct {
	Connected     bool
	FramesRx      uint64
	LinesTx       uint64
	FramesDropped uint64 // frames dropped because the dispatch queue was full
	ParseErrors   uint64
	ErrorsTotal   uint64
	Reconnects    uint64 // successful reconnections after the first connect
	LastFrameAt   time.Time
}

// DeviceLink is the bridge's view of the device connection.
// Satisfied by *Link; faked in tests.
type DeviceLink interface {
	Send(ctx context.Context, line string) error
	SetOnFrame(callback func(wire.Frame))
	SetOnStateChange(callback func(connected bool))
	IsConnected() bool
	Addr() string
	Stats() LinkStats
}

var _ DeviceLink = (*Link)(nil)

// Link is a newline-framed text connection to the feeder controller.
//
// The link dials in the background and keeps reconnecting with
// exponential backoff for as long as it is open, so the daemon does not
// care whether the device or its gateway comes up first. Received lines
// are parsed into frames and delivered, in order, on a single dispatch
// goroutine.
//
// All methods are safe for concurrent use.
type Link struct {
	cfg  LinkConfig
	addr string

	connMu    sync.RWMutex
	conn      net.Conn
	connected bool
	cancel    context.CancelFunc

	callbackMu sync.RWMutex
	onFrame    func(wire.Frame)
	onState    func(connected bool)

	frameQueue chan wire.Frame

	started  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	loggerMu sync.RWMutex
	logger   Logger

	framesRx      atomic.Uint64
	linesTx       atomic.Uint64
	framesDropped atomic.Uint64
	parseErrors   atomic.Uint64
	errorsTotal   atomic.Uint64
	reconnects    atomic.Uint64
	lastFrameAt   atomic.Int64 // unix seconds
}

// NewLink creates a device link for the given address. Call Start to
// begin connecting.
func NewLink(cfg LinkConfig) (*Link, error) {
	addr, err := parseLinkURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInitial == 0 {
		cfg.ReconnectInitial = defaultReconnectInitial
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}

	return &Link{
		cfg:        cfg,
		addr:       addr,
		frameQueue: make(chan wire.Frame, frameQueueSize),
		logger:     noopLinkLogger{},
	}, nil
}

// parseLinkURL extracts the host:port from a tcp:// link URL.
func parseLinkURL(linkURL string) (string, error) {
	u, err := url.Parse(linkURL)
	if err != nil {
		return "", fmt.Errorf("invalid link URL %q: %w", linkURL, err)
	}
	if u.Scheme != "tcp" || u.Host == "" {
		return "", fmt.Errorf("link URL %q must be tcp://host:port", linkURL)
	}
	return u.Host, nil
}

// Start begins connecting in the background. The first dial may fail;
// the link keeps retrying with backoff until Close is called or ctx is
// cancelled.
func (l *Link) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("device link already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.connMu.Lock()
	l.cancel = cancel
	l.connMu.Unlock()

	l.wg.Add(2)
	go l.dispatchLoop(runCtx)
	go l.run(runCtx)

	l.logInfo("device link starting", "addr", l.addr)
	return nil
}

// run owns the connect/read/reconnect cycle.
func (l *Link) run(ctx context.Context) {
	defer l.wg.Done()

	connectedBefore := false
	for {
		conn, err := l.connect(ctx)
		if err != nil {
			return // shutdown
		}

		if connectedBefore {
			l.reconnects.Add(1)
		}
		connectedBefore = true

		l.setConn(conn, true)
		l.logInfo("device link connected", "addr", l.addr)
		l.notifyState(true)

		l.readFrames(ctx, conn)

		l.setConn(nil, false)
		l.notifyState(false)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// connect dials the device with exponential backoff until it succeeds
// or the context is cancelled.
func (l *Link) connect(ctx context.Context) (net.Conn, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.ReconnectInitial
	bo.MaxInterval = l.cfg.ReconnectMax
	bo.MaxElapsedTime = 0 // retry until the device appears

	var conn net.Conn
	operation := func() error {
		c, err := net.DialTimeout("tcp", l.addr, l.cfg.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("dial %s: %w", l.addr, err)
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		l.errorsTotal.Add(1)
		l.logWarn("device link dial failed",
			"addr", l.addr,
			"error", err,
			"next_attempt_in", next.Round(time.Millisecond).String())
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// readFrames reads newline-framed lines until the connection dies.
// A read deadline is armed before every line: the device streams data
// continuously, so a silent link is a dead link.
func (l *Link) readFrames(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)

	for {
		if ctx.Err() != nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			l.errorsTotal.Add(1)
			l.logWarn("device link set deadline failed", "error", err)
			return
		}

		if !scanner.Scan() {
			if ctx.Err() != nil {
				return // shutdown closed the connection under us
			}
			if err := scanner.Err(); err != nil {
				l.errorsTotal.Add(1)
				l.logWarn("device link read failed", "error", err)
			} else {
				l.logInfo("device closed the link")
			}
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		frame, err := wire.ParseFrame(line)
		if err != nil {
			l.parseErrors.Add(1)
			l.logDebug("unparseable line from device", "line", line, "error", err)
			continue
		}

		l.framesRx.Add(1)
		l.lastFrameAt.Store(time.Now().Unix())

		select {
		case l.frameQueue <- frame:
		default:
			l.framesDropped.Add(1)
			l.logWarn("frame queue full, dropping frame", "kind", string(frame.Kind))
		}
	}
}

// dispatchLoop delivers frames to the callback one at a time, in
// arrival order. Feed progress must not overtake feed completion.
func (l *Link) dispatchLoop(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-l.frameQueue:
			l.callbackMu.RLock()
			callback := l.onFrame
			l.callbackMu.RUnlock()

			if callback == nil {
				continue
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						l.logError("frame callback panic", fmt.Errorf("%v", r))
					}
				}()
				callback(frame)
			}()
		}
	}
}

// Send writes one command line to the device. The trailing newline is
// appended here; callers pass the bare token.
func (l *Link) Send(ctx context.Context, line string) error {
	l.connMu.RLock()
	conn, connected := l.conn, l.connected
	l.connMu.RUnlock()

	if !connected || conn == nil {
		return ErrLinkDown
	}

	deadline := time.Now().Add(linkWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendFailed, ctx.Err())
	default:
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		l.errorsTotal.Add(1)
		// Wake the read loop so reconnection starts promptly.
		conn.Close()
		return fmt.Errorf("%w: write %s: %w", ErrSendFailed, l.addr, err)
	}

	l.linesTx.Add(1)
	return nil
}

// setConn swaps the active connection, closing the old one.
func (l *Link) setConn(conn net.Conn, connected bool) {
	l.connMu.Lock()
	if l.conn != nil && l.conn != conn {
		l.conn.Close()
	}
	l.conn = conn
	l.connected = connected
	l.connMu.Unlock()
}

// notifyState reports a link state change to the callback.
func (l *Link) notifyState(connected bool) {
	l.callbackMu.RLock()
	callback := l.onState
	l.callbackMu.RUnlock()

	if callback != nil {
		callback(connected)
	}
}

// SetOnFrame sets the callback for received frames. Frames are
// delivered in arrival order on a single goroutine.
func (l *Link) SetOnFrame(callback func(wire.Frame)) {
	l.callbackMu.Lock()
	l.onFrame = callback
	l.callbackMu.Unlock()
}

// SetOnStateChange sets the callback for link up/down transitions.
func (l *Link) SetOnStateChange(callback func(connected bool)) {
	l.callbackMu.Lock()
	l.onState = callback
	l.callbackMu.Unlock()
}

// SetLogger sets the logger for this link.
func (l *Link) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

// IsConnected returns true while a connection to the device is up.
func (l *Link) IsConnected() bool {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.connected
}

// Addr returns the link's host:port.
func (l *Link) Addr() string {
	return l.addr
}

// Stats returns current link statistics.
func (l *Link) Stats() LinkStats {
	var lastFrame time.Time
	if ts := l.lastFrameAt.Load(); ts > 0 {
		lastFrame = time.Unix(ts, 0)
	}
	return LinkStats{
		Connected:     l.IsConnected(),
		FramesRx:      l.framesRx.Load(),
		LinesTx:       l.linesTx.Load(),
		FramesDropped: l.framesDropped.Load(),
		ParseErrors:   l.parseErrors.Load(),
		ErrorsTotal:   l.errorsTotal.Load(),
		Reconnects:    l.reconnects.Load(),
		LastFrameAt:   lastFrame,
	}
}

// Close shuts the link down and waits for its goroutines to finish.
// Safe to call multiple times.
func (l *Link) Close() error {
	l.stopOnce.Do(func() {
		l.connMu.Lock()
		if l.cancel != nil {
			l.cancel()
		}
		if l.conn != nil {
			l.conn.Close()
			l.conn = nil
		}
		l.connected = false
		l.connMu.Unlock()

		l.wg.Wait()
		l.logInfo("device link closed")
	})
	return nil
}

func (l *Link) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

func (l *Link) logDebug(msg string, keysAndValues ...any) {
	l.getLogger().Debug(msg, keysAndValues...)
}

func (l *Link) logInfo(msg string, keysAndValues ...any) {
	l.getLogger().Info(msg, keysAndValues...)
}

func (l *Link) logWarn(msg string, keysAndValues ...any) {
	l.getLogger().Warn(msg, keysAndValues...)
}

func (l *Link) logError(msg string, err error) {
	l.getLogger().Error(msg, "error", err)
}

// noopLinkLogger discards all log output.
type noopLinkLogger struct{}

func (noopLinkLogger) Debug(string, ...any) {}
func (noopLinkLogger) Info(string, ...any)  {}
func (noopLinkLogger) Warn(string, ...any)  {}
func (noopLinkLogger) Error(string, ...any) {}
