package runner

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForShutdownSignal blocks until an interrupt or termination signal is
// received.
func WaitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
}
