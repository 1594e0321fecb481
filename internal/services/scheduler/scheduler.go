// Package scheduler provides deferred one-shot triggers and periodic jobs.
//
// One-shot triggers back the invite-link expiries: fire-and-forget timers
// that dispatch into a callback with the service's run context. Periodic jobs
// ride on a cron engine ("@every" specs).
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"invitebot/pkg/logx"
)

type Service struct {
	log logx.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	once    map[string]*time.Timer

	runCtx    context.Context
	runCancel context.CancelFunc
	jobWG     sync.WaitGroup
}

func New(log logx.Logger) *Service {
	return &Service{
		log:     log,
		cron:    cron.New(),
		entries: map[string]cron.EntryID{},
		once:    map[string]*time.Timer{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop cancels pending one-shot triggers, stops the cron engine and waits for
// running jobs up to the caller's deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	for name, t := range s.once {
		t.Stop()
		delete(s.once, name)
	}
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	cronDone := s.cron.Stop().Done()
	jobsDone := make(chan struct{})
	go func() {
		s.jobWG.Wait()
		close(jobsDone)
	}()

	for _, ch := range []<-chan struct{}{cronDone, jobsDone} {
		select {
		case <-ch:
		case <-ctx.Done():
			s.log.Warn("scheduler stop cancelled", logx.Err(ctx.Err()))
			return
		}
	}
	s.log.Info("scheduler stopped")
}

// AddOnce schedules job to run once after delay. A pending trigger with the
// same name is replaced. The job receives the service run context and runs
// on its own goroutine with panic isolation.
func (s *Service) AddOnce(name string, delay time.Duration, job func(ctx context.Context)) {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.once[name]; ok {
		prev.Stop()
	}
	s.once[name] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.once, name)
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.runJob(ctx, name, job)
	})
	s.log.Debug("one-shot scheduled", logx.String("name", name), logx.Duration("delay", delay))
}

// RemoveOnce drops a pending one-shot trigger. Reports whether one existed.
// Best-effort: a trigger that already fired is not interrupted.
func (s *Service) RemoveOnce(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.once[name]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.once, name)
	return true
}

// AddEvery registers a periodic job on the cron engine.
func (s *Service) AddEvery(name string, every time.Duration, job func(ctx context.Context)) error {
	if every <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %v", every)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", every), func() {
		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.runJob(ctx, name, job)
	})
	if err != nil {
		return err
	}
	s.entries[name] = id
	return nil
}

func (s *Service) runJob(ctx context.Context, name string, job func(ctx context.Context)) {
	s.jobWG.Add(1)
	defer s.jobWG.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduled job",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	job(ctx)
}

// PendingOnce reports the number of pending one-shot triggers.
func (s *Service) PendingOnce() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.once)
}
