// Package process supervises the serial gateway subprocess.
//
// feederd talks to the feeder over a TCP socket. When the socket is provided
// by a child process this package owns its lifecycle: ser2net exposing the
// feeder's USB serial port in a real deployment, or feedersim on the bench.
//
// Features:
//   - Start/stop with graceful shutdown (SIGTERM, then SIGKILL)
//   - Automatic restart with exponential backoff, reset after a stable run
//   - Watchdog health checks that kill and restart a hung gateway
//   - Line-by-line capture of gateway stdout/stderr into the service log
//
// Example usage:
//
//	mgr := process.NewManager(process.DefaultConfig(
//	    "feedersim", "/usr/local/bin/feedersim", []string{"--listen", ":9900"},
//	))
//	mgr.SetLogger(logger)
//
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
//
//	if err := mgr.WaitReady(ctx, "localhost:9900"); err != nil {
//	    return err
//	}
package process
