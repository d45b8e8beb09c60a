// Package scheduler starts plan executions from cron triggers and expires
// executions that stopped making progress.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/pranay-harness/harness-core-sub060/internal/pipeline"
	"github.com/pranay-harness/harness-core-sub060/internal/store"
	"github.com/pranay-harness/harness-core-sub060/pkg/schema"
)

// TriggerTypeCron marks executions started by the scheduler.
const TriggerTypeCron = "CRON"

const (
	runSuccess = "success"
	runError   = "error"
)

// Starter starts plan executions. Satisfied by the engine.
type Starter interface {
	Start(ctx context.Context, plan *schema.Plan, inputs map[string]any, meta schema.Metadata) (*schema.PlanExecution, error)
}

// Expirer expires executions without recent progress. Satisfied by the engine.
type Expirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Recorder appends execution events. Satisfied by store.EventLog.
type Recorder interface {
	Record(ctx context.Context, planExecutionID, nodeExecutionID, nodeID, eventType string, payload any) error
}

// Config wires a Scheduler.
type Config struct {
	Store   store.Store
	Starter Starter
	// Expirer and StaleAfter enable expiry on every tick.
	Expirer    Expirer
	StaleAfter time.Duration
	Events     Recorder
	// Interval between ticks. Defaults to one minute.
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Scheduler polls the store for due triggers and starts their plans.
type Scheduler struct {
	store      store.Store
	starter    Starter
	expirer    Expirer
	staleAfter time.Duration
	events     Recorder
	interval   time.Duration
	parser     cron.Parser
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // trigger IDs currently starting
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		store:      cfg.Store,
		starter:    cfg.Starter,
		expirer:    cfg.Expirer,
		staleAfter: cfg.StaleAfter,
		events:     cfg.Events,
		interval:   cfg.Interval,
		parser:     cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:     cfg.Logger,
		now:        cfg.Now,
		inflight:   make(map[string]struct{}),
	}
}

// AddTrigger validates the cron expression and stores an enabled trigger
// whose first run is the next matching time.
func (s *Scheduler) AddTrigger(ctx context.Context, id, planID, cronExpr string, inputs map[string]any) (*store.Trigger, error) {
	now := s.now().UTC()
	next, err := s.CalculateNextRun(cronExpr, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	if id == "" {
		id = uuid.NewString()
	}
	t := &store.Trigger{
		ID:             id,
		PlanID:         planID,
		CronExpression: cronExpr,
		Inputs:         inputs,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateTrigger(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// RegisterDefinition stores one trigger per cron trigger of def. Trigger
// ids are "<planID>/<identifier>" and inputs are the definition defaults
// overlaid with the trigger's own.
func (s *Scheduler) RegisterDefinition(ctx context.Context, planID string, def *pipeline.Definition) ([]*store.Trigger, error) {
	out := make([]*store.Trigger, 0, len(def.Triggers))
	for _, tr := range def.Triggers {
		inputs := make(map[string]any, len(def.Inputs)+len(tr.Inputs))
		maps.Copy(inputs, def.Inputs)
		maps.Copy(inputs, tr.Inputs)
		t, err := s.AddTrigger(ctx, planID+"/"+tr.Identifier, planID, tr.Cron, inputs)
		if err != nil {
			return out, fmt.Errorf("trigger %s: %w", tr.Identifier, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// SetEnabled enables or disables a trigger.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return s.store.UpdateTrigger(ctx, id, store.TriggerUpdate{Enabled: &enabled})
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires due triggers, then expires stale executions.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list triggers", slog.String("error", err.Error()))
	}

	now := s.now().UTC()
	for _, t := range triggers {
		if t.NextRunAt != nil && t.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(t.ID) {
			continue
		}
		if err := s.fire(ctx, t, now); err != nil {
			s.logger.Error("failed to fire trigger",
				slog.String("trigger_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
		s.release(t.ID)
	}

	s.expire(ctx)
}

func (s *Scheduler) expire(ctx context.Context) {
	if s.expirer == nil || s.staleAfter <= 0 {
		return
	}
	n, err := s.expirer.ExpireStale(ctx, s.staleAfter)
	if err != nil {
		s.logger.Error("failed to expire stale executions", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("expired stale executions", slog.Int("count", n))
	}
}

// fire starts the trigger's plan and records the outcome on the trigger.
func (s *Scheduler) fire(ctx context.Context, t *store.Trigger, now time.Time) error {
	log := s.logger.With(slog.String("trigger_id", t.ID), slog.String("plan_id", t.PlanID))
	log.Info("firing trigger")

	status := runSuccess
	var execID string
	plan, err := s.store.GetPlan(ctx, t.PlanID)
	if err == nil {
		var exec *schema.PlanExecution
		exec, err = s.starter.Start(ctx, plan, t.Inputs, schema.Metadata{
			TriggerType: TriggerTypeCron,
			TriggeredBy: t.ID,
		})
		if exec != nil {
			execID = exec.ID
		}
	}
	if err != nil {
		status = runError
		log.Error("trigger execution failed", slog.String("error", err.Error()))
	}
	if execID != "" && s.events != nil {
		_ = s.events.Record(ctx, execID, "", "", schema.EventTriggerFired, map[string]any{
			"trigger_id": t.ID,
			"cron":       t.CronExpression,
		})
	}

	next, err := s.CalculateNextRun(t.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for trigger %q: %w", t.ID, err)
	}
	return s.store.UpdateTrigger(ctx, t.ID, store.TriggerUpdate{
		LastRunAt:       &now,
		NextRunAt:       &next,
		LastRunStatus:   status,
		LastExecutionID: execID,
	})
}

// tryAcquire returns true and marks the trigger in flight if it is not already.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop shuts down the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed fires, once each, the triggers whose next run passed while
// the scheduler was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) (int, error) {
	enabled := true
	triggers, err := s.store.ListTriggers(ctx, store.TriggerFilter{Enabled: &enabled})
	if err != nil {
		return 0, fmt.Errorf("list missed triggers: %w", err)
	}

	now := s.now().UTC()
	recovered := 0
	for _, t := range triggers {
		if t.NextRunAt == nil || !t.NextRunAt.Before(now) {
			continue
		}
		if !s.tryAcquire(t.ID) {
			continue
		}
		err := s.fire(ctx, t, now)
		s.release(t.ID)
		if err != nil {
			s.logger.Error("failed to recover missed trigger",
				slog.String("trigger_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered missed triggers", slog.Int("count", recovered))
	}
	return recovered, nil
}
