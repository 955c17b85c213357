package botloop

import (
	"log/slog"
	"os"
	"syscall"
	"time"
)

// restartDelay is how long restartSelf waits before re-executing.
const restartDelay = 5 * time.Second

// restartSelf waits restartDelay, then re-execs the current process image in
// place, per the cancellation policy's allowance for process-level
// self-restart on fatal websocket exceptions. It does not return on success;
// on failure it logs and exits non-zero rather than continue running in a
// broken state.
func restartSelf(logger *slog.Logger) {
	time.Sleep(restartDelay)
	exe, err := os.Executable()
	if err != nil {
		logger.Error("fatal: cannot resolve executable path for self-restart", "error", err)
		os.Exit(1)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		logger.Error("fatal: self-restart exec failed", "error", err)
		os.Exit(1)
	}
}
