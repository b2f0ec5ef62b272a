package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers per-market reconciliation and the names fill on cron
// schedules. Specs carry a seconds field and may set CRON_TZ.
type Scheduler struct {
	Cron *cron.Cron
	Job  *Job
	Ctx  context.Context
}

// NewScheduler creates a scheduler whose jobs run under ctx.
func NewScheduler(ctx context.Context, job *Job) *Scheduler {
	return &Scheduler{
		Cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		Job:  job,
		Ctx:  ctx,
	}
}

// RegisterMarket schedules RunMarket(market) at spec, e.g.
// "CRON_TZ=America/New_York 0 0 16 * * 1-5".
func (s *Scheduler) RegisterMarket(market, spec string) error {
	if _, err := s.Cron.AddFunc(spec, func() { s.runMarket(market) }); err != nil {
		return fmt.Errorf("register %s reconcile: %w", market, err)
	}
	log.Printf("[scheduler] %s reconcile at %q", market, spec)
	return nil
}

// RegisterNames schedules FillMissingNames at spec. An empty spec disables it.
func (s *Scheduler) RegisterNames(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := s.Cron.AddFunc(spec, s.fillNames); err != nil {
		return fmt.Errorf("register names fill: %w", err)
	}
	log.Printf("[scheduler] names fill at %q", spec)
	return nil
}

func (s *Scheduler) runMarket(market string) {
	if _, err := s.Job.RunMarket(s.Ctx, market); err != nil {
		log.Printf("[scheduler] %s reconcile: %v", market, err)
	}
}

func (s *Scheduler) fillNames() {
	if _, err := s.Job.FillMissingNames(s.Ctx); err != nil {
		log.Printf("[scheduler] names fill: %v", err)
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[scheduler] started")
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[scheduler] stopped")
}
