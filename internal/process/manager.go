package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the managed gateway.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

const (
	// outputScanBuffer bounds a single captured gateway output line.
	outputScanBuffer = 64 * 1024

	// healthCheckTimeout bounds one watchdog health check run.
	healthCheckTimeout = 5 * time.Second

	// maxHealthFailures is how many consecutive failed health checks the
	// watchdog tolerates before killing the gateway.
	maxHealthFailures = 3

	// killWaitTimeout is how long to wait for the process to die after SIGKILL.
	killWaitTimeout = 5 * time.Second

	// readyTimeout bounds how long WaitReady polls for the gateway socket.
	readyTimeout = 30 * time.Second

	// readyPollInterval is how often WaitReady retries the connection.
	readyPollInterval = 100 * time.Millisecond

	// readyDialTimeout is the timeout for a single readiness dial.
	readyDialTimeout = 500 * time.Millisecond
)

// RecoverableError lets a health check signal whether restarting the gateway
// can fix the failure. A hung process is fixed by a restart; a missing
// serial adapter is not.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// IsRecoverable reports whether restarting the gateway might clear err.
// Errors that do not implement RecoverableError are assumed recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	var re RecoverableError
	if errors.As(err, &re) {
		return re.IsRecoverable()
	}
	return true
}

// Config holds configuration for the managed gateway subprocess.
type Config struct {
	// Name is a human-readable identifier for logging, e.g. "ser2net".
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables in key=value form.
	// If nil, the gateway inherits the service environment unchanged.
	Env []string

	// WorkDir is the working directory for the gateway.
	// If empty, it inherits the service working directory.
	WorkDir string

	// RestartOnFailure enables automatic restart when the gateway exits
	// without being asked to.
	RestartOnFailure bool

	// RestartDelay is the backoff before the first restart attempt.
	// Consecutive attempts double it up to MaxRestartDelay.
	RestartDelay time.Duration

	// MaxRestartDelay caps the restart backoff.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must survive before the backoff
	// and attempt budget reset. Keeps a gateway that crashes every few
	// seconds from being hammered, while a weekly crash restarts promptly.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restart attempts. 0 means
	// unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// HealthCheckFunc is the watchdog probe, run periodically while the
	// gateway is up. If nil, the gateway is considered healthy while the
	// process is alive. See TCPHealthCheck.
	HealthCheckFunc func(ctx context.Context) error

	// HealthCheckInterval is how often to run the watchdog probe.
	HealthCheckInterval time.Duration

	// OnStart is called after each successful launch.
	OnStart func()

	// OnStop is called when the gateway stops, with the exit error if the
	// stop was not requested.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// DefaultConfig returns a Config with sensible defaults for a serial
// gateway: restart forever-ish, back off to five minutes, reset after a
// stable two-minute run.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:                name,
		Binary:              binary,
		Args:                args,
		RestartOnFailure:    true,
		RestartDelay:        5 * time.Second,
		MaxRestartDelay:     5 * time.Minute,
		StableThreshold:     2 * time.Minute,
		MaxRestartAttempts:  10,
		GracefulTimeout:     10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises the gateway subprocess.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	attempt       int
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool

	done chan struct{}
	stop chan struct{}
}

// NewManager creates a process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the gateway and begins monitoring it. It returns an error
// if the initial launch fails; later crashes are handled by the restart
// machinery.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("gateway %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.done = make(chan struct{})
	m.stop = make(chan struct{})
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastError = err
		m.done = nil
		m.stop = nil
		m.mu.Unlock()
		return err
	}

	go m.monitor(ctx)

	return nil
}

// startProcess launches the gateway binary.
func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting gateway",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", strings.Join(m.config.Args, " "),
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary path comes from validated service configuration

	// Own process group so Stop can signal forked children as well.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	go m.captureOutput("stdout", stdout)
	go m.captureOutput("stderr", stderr)

	m.logger.Info("gateway started",
		"name", m.config.Name,
		"pid", cmd.Process.Pid,
	)

	if m.config.OnStart != nil {
		m.config.OnStart()
	}

	return nil
}

// captureOutput forwards gateway output into the service log line by line.
func (m *Manager) captureOutput(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, outputScanBuffer), outputScanBuffer)
	for scanner.Scan() {
		m.logger.Debug("gateway output",
			"name", m.config.Name,
			"stream", stream,
			"line", scanner.Text(),
		)
	}
	if err := scanner.Err(); err != nil {
		m.logger.Debug("gateway output stream closed",
			"name", m.config.Name,
			"stream", stream,
			"error", err,
		)
	}
}

// waitForExitOrHealthFailure blocks until the gateway exits or the watchdog
// gives up on it. A gateway that fails maxHealthFailures consecutive probes
// is killed; the returned error wraps the health failure, not the kill, so
// the caller can judge whether a restart will help.
func (m *Manager) waitForExitOrHealthFailure(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if m.config.HealthCheckFunc == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			err := m.config.HealthCheckFunc(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("gateway health recovered",
						"name", m.config.Name,
						"previous_failures", failures,
					)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("gateway health check failed",
				"name", m.config.Name,
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < maxHealthFailures {
				continue
			}

			m.logger.Error("gateway unresponsive, killing it",
				"name", m.config.Name,
				"failures", failures,
			)
			if cmd.Process != nil {
				_ = cmd.Process.Kill() //nolint:errcheck // the exit channel below observes the result
			}

			select {
			case <-exitCh:
				return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
			case <-time.After(killWaitTimeout):
				return fmt.Errorf("gateway did not exit after kill: %w", err)
			}
		}
	}
}

// monitor watches the gateway and handles restarts.
func (m *Manager) monitor(ctx context.Context) {
	m.mu.RLock()
	done := m.done
	m.mu.RUnlock()
	defer close(done)

	for {
		m.mu.RLock()
		cmd := m.cmd
		started := m.startTime
		m.mu.RUnlock()

		if cmd == nil {
			return
		}

		err := m.waitForExitOrHealthFailure(ctx, cmd)

		if m.stopWasRequested() {
			m.logger.Info("gateway stopped as requested", "name", m.config.Name)
			m.setStatus(StatusStopped)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		uptime := time.Since(started)
		m.logger.Warn("gateway exited unexpectedly",
			"name", m.config.Name,
			"uptime", uptime.Round(time.Millisecond).String(),
			"error", err,
		)

		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		// A run that survived the stable threshold earns a fresh backoff.
		if uptime >= m.config.StableThreshold {
			m.attempt = 0
		}
		m.mu.Unlock()

		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, leaving gateway down", "name", m.config.Name)
			return
		}
		if !IsRecoverable(err) {
			m.logger.Error("gateway failure is not recoverable, giving up",
				"name", m.config.Name,
				"error", err,
			)
			return
		}

		if !m.restartLoop(ctx) {
			return
		}
	}
}

// restartLoop attempts to relaunch the gateway until a launch succeeds, the
// attempt budget runs out, or shutdown begins. It reports whether the
// gateway is running again.
func (m *Manager) restartLoop(ctx context.Context) bool {
	for {
		m.mu.Lock()
		if m.config.MaxRestartAttempts > 0 && m.attempt >= m.config.MaxRestartAttempts {
			attempts := m.attempt
			m.mu.Unlock()
			m.logger.Error("gateway restart budget exhausted",
				"name", m.config.Name,
				"attempts", attempts,
			)
			return false
		}
		m.attempt++
		m.restartCount++
		attempt := m.attempt
		m.mu.Unlock()

		delay := m.calculateBackoffDelay(attempt)
		m.logger.Info("restarting gateway",
			"name", m.config.Name,
			"attempt", attempt,
			"delay", delay.String(),
		)
		if m.config.OnRestart != nil {
			m.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			m.logger.Info("shutdown in progress, not restarting gateway", "name", m.config.Name)
			return false
		case <-m.stop:
			return false
		case <-time.After(delay):
		}

		if m.stopWasRequested() {
			return false
		}

		err := m.startProcess(ctx)
		if err == nil {
			return true
		}

		m.logger.Error("gateway relaunch failed",
			"name", m.config.Name,
			"error", err,
		)
		m.mu.Lock()
		m.lastError = err
		m.status = StatusFailed
		m.mu.Unlock()
	}
}

// calculateBackoffDelay doubles the base delay per consecutive attempt,
// capped at MaxRestartDelay.
func (m *Manager) calculateBackoffDelay(attempt int) time.Duration {
	delay := m.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.config.MaxRestartDelay {
			return m.config.MaxRestartDelay
		}
	}
	if delay > m.config.MaxRestartDelay {
		return m.config.MaxRestartDelay
	}
	return delay
}

// Stop gracefully stops the gateway: SIGTERM to the process group, then
// SIGKILL after GracefulTimeout.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status == StatusStopped || m.done == nil {
		m.mu.Unlock()
		return nil
	}
	if !m.stopRequested {
		m.stopRequested = true
		close(m.stop)
	}
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping gateway", "name", m.config.Name, "pid", pid)

	// Signal the whole group; ser2net forks helpers that must die too.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("sending SIGTERM to gateway group",
				"name", m.config.Name,
				"error", err,
			)
		}
	}

	select {
	case <-done:
		m.logger.Info("gateway stopped", "name", m.config.Name)
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("gateway ignored SIGTERM, killing it",
			"name", m.config.Name,
			"timeout", m.config.GracefulTimeout.String(),
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing gateway group %s: %w", m.config.Name, err)
		}
	}

	<-done
	m.logger.Info("gateway killed", "name", m.config.Name)

	return nil
}

// WaitReady blocks until the gateway accepts TCP connections on addr.
// ser2net and feedersim both open their listener a moment after launch;
// callers should dial the device link only once this returns.
func (m *Manager) WaitReady(ctx context.Context, addr string) error {
	deadline := time.Now().Add(readyTimeout)

	m.logger.Debug("waiting for gateway socket", "name", m.config.Name, "address", addr)

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for gateway %s: %w", m.config.Name, ctx.Err())
		default:
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("gateway %s not accepting connections on %s after %v",
				m.config.Name, addr, readyTimeout)
		}

		if !m.IsRunning() {
			if err := m.LastError(); err != nil {
				return fmt.Errorf("gateway %s exited during startup: %w", m.config.Name, err)
			}
			return fmt.Errorf("gateway %s exited during startup", m.config.Name)
		}

		conn, err := net.DialTimeout("tcp", addr, readyDialTimeout)
		if err == nil {
			conn.Close()
			return nil
		}

		time.Sleep(readyPollInterval)
	}
}

// TCPHealthCheck returns a watchdog probe that verifies the gateway still
// accepts connections on addr. Wire it into Config.HealthCheckFunc.
func TCPHealthCheck(addr string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("gateway not accepting connections on %s: %w", addr, err)
		}
		return conn.Close()
	}
}

func (m *Manager) stopWasRequested() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopRequested
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

// Status returns the current status of the managed gateway.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the gateway is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that took the gateway down.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns how many times the gateway has been restarted since
// Start, including relaunch attempts that failed.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// Uptime returns how long the current gateway process has been running, or
// 0 if it is not running.
func (m *Manager) Uptime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status != StatusRunning {
		return 0
	}
	return time.Since(m.startTime)
}

// PID returns the gateway process ID, or 0 if it has never started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats holds a snapshot of the managed gateway for status reporting.
type Stats struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns current statistics for the gateway.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}

	if m.cmd != nil && m.cmd.Process != nil {
		stats.PID = m.cmd.Process.Pid
	}

	if m.status == StatusRunning {
		stats.Uptime = time.Since(m.startTime)
	}

	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}

	return stats
}
