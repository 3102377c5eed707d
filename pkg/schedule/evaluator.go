// Package schedule implements the schedule evaluator: a ticker-driven
// background worker that applies the global on/off window to every app
// with automation enabled, invoking the orchestrator when the app's live
// status disagrees with the window's intended action.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haloworks/fleetctl/internal/config"
	"github.com/haloworks/fleetctl/internal/telemetry"
	"github.com/haloworks/fleetctl/pkg/orchestrator"
	"github.com/haloworks/fleetctl/pkg/registry"
)

// windowSlack is the width of the "just reached start/stop time" window:
// a tick inside [boundary, boundary+slack) acts, later ticks do not.
const windowSlack = 5 * time.Minute

// suppressWindow bounds how long a recent opposite-intent user action
// suppresses the scheduler from re-acting at the next boundary, avoiding
// an operator override being immediately undone by the next tick.
const suppressWindow = 10 * time.Minute

type intent string

const (
	intentNone  intent = ""
	intentStart intent = "start"
	intentStop  intent = "stop"
)

// Evaluator runs the periodic schedule evaluation loop.
type Evaluator struct {
	store        *registry.Store
	orchestrator *orchestrator.Orchestrator
	quickStat    orchestrator.QuickStatusFunc
	schedule     config.GlobalSchedule
	interval     time.Duration
	logger       *slog.Logger
}

// New constructs an Evaluator.
func New(store *registry.Store, orch *orchestrator.Orchestrator, quickStat orchestrator.QuickStatusFunc, sched config.GlobalSchedule, interval time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		store:        store,
		orchestrator: orch,
		quickStat:    quickStat,
		schedule:     sched,
		interval:     interval,
		logger:       logger,
	}
}

// Run blocks, evaluating every app with schedule automation enabled once
// per tick, until ctx is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	e.logger.Info("schedule evaluator started", "interval", e.interval)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("schedule evaluator stopped")
			return nil
		case <-ticker.C:
			e.evaluateAll(ctx)
		}
	}
}

func (e *Evaluator) evaluateAll(ctx context.Context) {
	enabled, err := e.store.ListEnabledSchedules(ctx)
	if err != nil {
		e.logger.Error("listing enabled schedules", "error", err)
		return
	}

	loc, err := time.LoadLocation(e.schedule.Timezone)
	if err != nil {
		e.logger.Error("loading schedule timezone", "timezone", e.schedule.Timezone, "error", err)
		loc = time.UTC
	}
	now := time.Now().In(loc)

	for _, sched := range enabled {
		if err := e.evaluateOne(ctx, sched.AppName, now); err != nil {
			e.logger.Error("evaluating schedule", "app", sched.AppName, "error", err)
		}
	}
}

func (e *Evaluator) evaluateOne(ctx context.Context, appName string, now time.Time) error {
	action := e.intendedAction(now)
	if action == intentNone {
		return nil
	}

	if e.suppressedByRecentUserAction(ctx, appName, action) {
		e.logger.Info("suppressing scheduled action, recent opposite user action", "app", appName, "action", action)
		return nil
	}

	status, err := e.quickStat(ctx, appName)
	if err != nil {
		status = orchestrator.QuickUnknown
	}
	// UNKNOWN counts as UP when deciding whether to stop, so a probe
	// failure never causes a spurious stop.
	effective := status
	if effective == orchestrator.QuickUnknown {
		effective = orchestrator.QuickUp
	}

	switch action {
	case intentStart:
		if status == orchestrator.QuickUp {
			return nil
		}
		reason := "scheduled ON time reached"
		if _, err := e.orchestrator.Start(ctx, appName, false, registry.SourceScheduler); err != nil {
			return fmt.Errorf("scheduled start: %w", err)
		}
		telemetry.ScheduleActionsTotal.WithLabelValues("start").Inc()
		e.logger.Info(reason, "app", appName)
	case intentStop:
		if effective == orchestrator.QuickDown {
			return nil
		}
		reason := "scheduled OFF time reached"
		if _, err := e.orchestrator.Stop(ctx, appName, registry.SourceScheduler); err != nil {
			return fmt.Errorf("scheduled stop: %w", err)
		}
		telemetry.ScheduleActionsTotal.WithLabelValues("stop").Inc()
		e.logger.Info(reason, "app", appName)
	}
	return nil
}

// intendedAction decides the tick's action: weekend shutdown takes
// priority over the start/stop windows, so with WeekendShutdown set a
// Saturday or Sunday tick always yields stop, even when that day is listed
// in WeekdaysStart.
func (e *Evaluator) intendedAction(now time.Time) intent {
	weekday := int(now.Weekday())

	if e.schedule.WeekendShutdown && isWeekend(weekday) {
		return intentStop
	}

	if withinWindow(now, e.schedule.StartTime) && containsWeekday(e.schedule.WeekdaysStart, weekday) {
		return intentStart
	}
	if withinWindow(now, e.schedule.StopTime) && containsWeekday(e.schedule.WeekdaysStop, weekday) {
		return intentStop
	}
	return intentNone
}

func isWeekend(weekday int) bool {
	return weekday == int(time.Saturday) || weekday == int(time.Sunday)
}

func containsWeekday(days []int, weekday int) bool {
	for _, d := range days {
		if d == weekday {
			return true
		}
	}
	return false
}

// withinWindow reports whether now falls within [target, target+slack) on
// the same calendar day, where target is parsed as "HH:MM" in now's zone.
func withinWindow(now time.Time, target string) bool {
	t, err := time.ParseInLocation("15:04", target, now.Location())
	if err != nil {
		return false
	}
	boundary := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	return !now.Before(boundary) && now.Before(boundary.Add(windowSlack))
}

// suppressedByRecentUserAction keeps the scheduler from immediately
// undoing an operator override: a user-sourced operation of the opposite
// intent within suppressWindow wins over the scheduler for this tick.
func (e *Evaluator) suppressedByRecentUserAction(ctx context.Context, appName string, action intent) bool {
	entry, err := e.store.MostRecentOperation(ctx, appName)
	if err != nil || entry == nil {
		return false
	}
	if entry.Source != registry.SourceUser {
		return false
	}
	if time.Since(time.Unix(entry.FinishedAt, 0)) > suppressWindow {
		return false
	}
	opposite := map[intent]string{intentStart: "stop", intentStop: "start"}[action]
	return entry.Action == opposite
}
