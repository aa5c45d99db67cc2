// Package retention периодически чистит журнал сигналов и кэш заправок.
// Каждая чистка крутится в своём цикле: сбой или паника одной не трогает другую.
package retention

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweep описывает одну чистку: удалить всё, что старше cutoff.
type Sweep struct {
	Name  string
	Purge func(ctx context.Context, cutoff time.Time) (int64, error)
}

type Options struct {
	Interval     time.Duration // пауза между чистками
	Window       time.Duration // всё старше: удаляем
	RunOnStart   bool
	SweepTimeout time.Duration // предел одной чистки, в том числе при остановке
}

type Scheduler struct {
	sweeps []Sweep
	opts   Options
	now    func() time.Time
	log    logrus.FieldLogger
}

func New(opts Options, log logrus.FieldLogger, sweeps ...Sweep) *Scheduler {
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = time.Minute
	}
	return &Scheduler{sweeps: sweeps, opts: opts, now: time.Now, log: log}
}

// WithClock подменяет часы (тесты).
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	cp := *s
	cp.now = now
	return &cp
}

// Run крутит все чистки до отмены ctx и ждёт завершения текущих.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, sw := range s.sweeps {
		wg.Add(1)
		go func(sw Sweep) {
			defer wg.Done()
			s.loop(ctx, sw)
		}(sw)
	}
	s.log.WithFields(logrus.Fields{
		"loops":    len(s.sweeps),
		"interval": s.opts.Interval.String(),
		"window":   s.opts.Window.String(),
	}).Info("retention started")
	wg.Wait()
	s.log.Info("retention stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, sw Sweep) {
	if s.opts.RunOnStart {
		s.tick(ctx, sw)
	}
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx, sw)
		}
	}
}

// tick: чистка на отвязанном контексте: остановка не рвёт транзакцию посередине.
func (s *Scheduler) tick(ctx context.Context, sw Sweep) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.SweepTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.RunOnce(sctx, sw)
	entry := s.log.WithFields(logrus.Fields{"sweep": sw.Name, "dur": time.Since(start).String()})
	if err != nil {
		entry.WithError(err).Error("retention sweep failed")
		return
	}
	entry.WithField("deleted", n).Info("retention sweep done")
}

// RunOnce выполняет одну чистку с cutoff = now - window. Паника превращается в ошибку.
func (s *Scheduler) RunOnce(ctx context.Context, sw Sweep) (n int64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in sweep %s: %v\n%s", sw.Name, rec, debug.Stack())
		}
	}()
	cutoff := s.now().UTC().Add(-s.opts.Window)
	return sw.Purge(ctx, cutoff)
}
