package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext returns a context cancelled on SIGINT or SIGTERM so
// in-flight stages can wind down and run state reaches storage. A second
// signal within gracePeriod exits immediately with status 1.
func SignalContext(gracePeriod time.Duration) (context.Context, context.CancelFunc) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	return signalContext(gracePeriod, sigs, os.Exit)
}

// signalContext is the core split out for tests, which feed the signal
// channel directly and intercept the exit function.
func signalContext(gracePeriod time.Duration, sigs chan os.Signal, exit func(int)) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		defer signal.Stop(sigs)

		select {
		case <-ctx.Done():
			return
		case <-sigs:
		}
		fmt.Fprintln(os.Stderr, "\ninterrupt received, finishing current stage (interrupt again to abort)")
		cancel()

		grace := time.NewTimer(gracePeriod)
		defer grace.Stop()
		select {
		case <-sigs:
			exit(1)
		case <-grace.C:
		}
	}()

	return ctx, cancel
}
