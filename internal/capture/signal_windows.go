//go:build windows

package capture

import "context"

// SignalTriggers is a no-op on Windows, which has no SIGUSR1
func SignalTriggers(ctx context.Context, _ chan<- Trigger) {
	<-ctx.Done()
}
