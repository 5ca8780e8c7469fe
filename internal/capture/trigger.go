package capture

import (
	"bufio"
	"context"
	"io"

	"github.com/tphakala/ridenote/internal/errors"
	"github.com/tphakala/ridenote/internal/logger"
)

// Trigger names a capture request source
type Trigger string

const (
	TriggerStdin  Trigger = "stdin"
	TriggerSignal Trigger = "signal"
	TriggerAPI    Trigger = "api"
)

// Serve starts a capture for every trigger received until ctx ends. Triggers
// that arrive while a capture runs are ignored.
func (w *Workflow) Serve(ctx context.Context, triggers <-chan Trigger) error {
	log := w.log
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return nil
		case t, ok := <-triggers:
			if !ok {
				w.Wait()
				return nil
			}
			if err := w.Start(ctx); err != nil {
				if errors.Is(err, ErrCaptureInProgress) {
					log.Info("capture already running, trigger ignored", logger.String("trigger", string(t)))
					continue
				}
				return err
			}
			log.Debug("capture triggered", logger.String("trigger", string(t)))
		}
	}
}

// StdinTriggers sends a trigger for every line read from r, e.g. Enter on a
// keyboard or a handlebar button mapped as one. It returns when r is
// exhausted or ctx ends.
func StdinTriggers(ctx context.Context, r io.Reader, out chan<- Trigger) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case out <- TriggerStdin:
		case <-ctx.Done():
			return nil
		default:
			// a capture is being started already
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(err).
			Component("capture").
			Category(errors.CategoryFileIO).
			Build()
	}
	return nil
}
