//go:build !windows

package capture

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SignalTriggers sends a trigger for every SIGUSR1 until ctx ends
func SignalTriggers(ctx context.Context, out chan<- Trigger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			select {
			case out <- TriggerSignal:
			default:
			}
		}
	}
}
