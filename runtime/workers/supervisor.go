package workers

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRestartInterval = 200 * time.Millisecond

// Supervisor keeps the workers of one session instantiation alive until its
// context ends. A worker returning nil is done; an error or a panic restarts
// it after restartInterval.
type Supervisor struct {
	log             *slog.Logger
	restartInterval time.Duration
	workers         []contract.Worker
	restarts        atomic.Int64
}

func NewSupervisor(log *slog.Logger, restartInterval time.Duration) *Supervisor {
	if restartInterval <= 0 {
		restartInterval = defaultRestartInterval
	}
	return &Supervisor{log: log, restartInterval: restartInterval}
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Run blocks until every worker is done or ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, worker := range s.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepAlive(ctx, worker)
		}()
	}
	wg.Wait()
}

// Restarts counts the worker restarts since the supervisor was created.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

func (s *Supervisor) keepAlive(ctx context.Context, worker contract.Worker) {
	log := s.log.With("worker", contract.GetWorkerName(worker))
	for failures := 1; ; failures++ {
		err := runRecovered(ctx, worker)
		if err == nil {
			log.Debug("Session worker done")
			return
		}
		if ctx.Err() != nil {
			log.Debug("Session worker stopped with its session")
			return
		}
		s.restarts.Add(1)
		log.Warn("Session worker failed, restarting", "failures", failures, "delay", s.restartInterval, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.restartInterval):
		}
	}
}

func runRecovered(ctx context.Context, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
		}
	}()
	return worker.Run(ctx)
}
