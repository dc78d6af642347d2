// Package sched provides the timers the page heuristics run on.
package sched

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Cancel stops a scheduled job. Calling it more than once is harmless.
type Cancel func()

// Scheduler runs callbacks later. Callbacks may run on any goroutine.
type Scheduler interface {
	Now() time.Time
	// After runs fn once after d.
	After(d time.Duration, fn func()) Cancel
	// Every runs fn every d until cancelled.
	Every(d time.Duration, fn func()) Cancel
}

// Cron is the production Scheduler: periodic jobs on a robfig/cron runner,
// one-shots on time.AfterFunc.
type Cron struct {
	c      *cron.Cron
	logger *slog.Logger
	once   sync.Once
}

// NewCron returns a started scheduler. Call Stop when done.
func NewCron(logger *slog.Logger) *Cron {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(
		cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger})),
		cron.WithLogger(cronLogger{logger}),
	)
	c.Start()
	return &Cron{c: c, logger: logger}
}

// Now implements Scheduler.
func (s *Cron) Now() time.Time { return time.Now() }

// After implements Scheduler.
func (s *Cron) After(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Every implements Scheduler.
func (s *Cron) Every(d time.Duration, fn func()) Cancel {
	// cron rounds sub-second delays up to a second
	if d < time.Second || d%time.Second != 0 {
		return tickerEvery(d, fn)
	}
	id, err := s.c.AddFunc(fmt.Sprintf("@every %s", d), fn)
	if err != nil {
		s.logger.Warn("cron rejected interval, falling back to ticker", "interval", d, "error", err)
		return tickerEvery(d, fn)
	}
	return func() { s.c.Remove(id) }
}

// Stop halts the cron runner and waits for running jobs.
func (s *Cron) Stop() {
	s.once.Do(func() {
		<-s.c.Stop().Done()
	})
}

func tickerEvery(d time.Duration, fn func()) Cancel {
	t := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once
	go func() {
		for {
			select {
			case <-done:
				return
			case <-t.C:
				fn()
			}
		}
	}()
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
