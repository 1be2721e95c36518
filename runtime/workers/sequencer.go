package workers

import (
	"context"
	"log/slog"
)

// Sequencer executes, one at a time and in submission order, every command
// mutating a session. Commands never block on I/O.
type Sequencer struct {
	commands <-chan func()
	log      *slog.Logger
}

func NewSequencer(commands <-chan func(), log *slog.Logger) *Sequencer {
	return &Sequencer{commands: commands, log: log}
}

func (w *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping sequencer")
			return nil
		case cmd := <-w.commands:
			cmd()
		}
	}
}
