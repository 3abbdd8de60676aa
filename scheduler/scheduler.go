package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"imocrawl/config"
)

// Scheduler triggers full crawl-and-sync runs on a cron expression or a fixed
// interval. One run at a time; a tick that fires while a run is still going
// is skipped.
type Scheduler struct {
	cfg    config.SchedulerConfig
	runAll func(context.Context) error
	cron   *cron.Cron
	ticker *time.Ticker
	stopCh chan struct{}
	busyCh chan struct{}
}

func New(cfg config.SchedulerConfig, runAll func(context.Context) error) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		runAll: runAll,
		cron:   cron.New(),
		stopCh: make(chan struct{}),
		busyCh: make(chan struct{}, 1),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.Cron != "" {
		log.Printf("Starting scheduler with cron: %s", s.cfg.Cron)
		_, err := s.cron.AddFunc(s.cfg.Cron, func() { s.trigger(ctx) })
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
		return nil
	}

	if s.cfg.Interval > 0 {
		log.Printf("Starting scheduler with interval: %s", s.cfg.Interval)
		s.ticker = time.NewTicker(s.cfg.Interval)
		go func() {
			for {
				select {
				case <-s.ticker.C:
					s.trigger(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
		return nil
	}

	log.Println("No schedule configured, daemon is idle")
	return nil
}

func (s *Scheduler) trigger(ctx context.Context) {
	select {
	case s.busyCh <- struct{}{}:
	default:
		log.Println("Previous run still in progress, skipping tick")
		return
	}
	defer func() { <-s.busyCh }()

	if err := s.runAll(ctx); err != nil {
		log.Printf("Scheduled run error: %v", err)
	}
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.stopCh)
}
