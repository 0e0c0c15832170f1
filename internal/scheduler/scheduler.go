// Package scheduler implements the Scheduler (spec §4.I): the
// controller-tick pass that computes due schedules' next fire times and
// dispatches StartAction/StopAction against their bound tasks.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ov-project/govmd/internal/apperror"
	"github.com/ov-project/govmd/internal/model"
	"github.com/ov-project/govmd/internal/store"
	"github.com/ov-project/govmd/internal/taskstate"
)

// ActionKind is whether a due schedule should start or stop its task.
type ActionKind string

const (
	ActionStart ActionKind = "start"
	ActionStop  ActionKind = "stop"
)

// Action is one schedule-driven task transition to carry out (spec §4.I
// step 3's StartAction/StopAction).
type Action struct {
	Kind      ActionKind
	TaskUUID  string
	OwnerUUID string
	OwnerName string
}

// VTCacheRefresher refreshes the locally-cached VT set the HTTP-Scanner
// and Agent-Controller variants read from (spec §4.I step 2). Feed Sync
// owns the authoritative refresh; the scheduler only triggers it.
type VTCacheRefresher interface {
	RefreshVTCache(ctx context.Context) error
}

// ConnectionFactory opens the "authenticated self-call" session a
// scheduler action uses to invoke start_task/stop_task as the schedule's
// owning principal, mirroring spec §4.I step 5's "open an authenticated
// client connection back to the controller" without literally forking a
// second process: golang.org/x/oauth2/clientcredentials issues the
// session token, and the returned taskstate.Principal carries the caller
// identity into taskstate.
type ConnectionFactory interface {
	Open(ctx context.Context, ownerUUID string) (taskstate.Principal, error)
}

// Scheduler runs the periodic controller tick.
type Scheduler struct {
	Schedules  *store.Schedules
	Tasks      *store.Tasks
	Reports    *store.Reports
	Machine    *taskstate.StateMachine
	Conn       ConnectionFactory
	VTCache    VTCacheRefresher

	AutoDeleteAfter time.Duration
	ScheduleTimeout time.Duration

	cron *cron.Cron
	Log  *slog.Logger
}

func New(schedules *store.Schedules, tasks *store.Tasks, reports *store.Reports, sm *taskstate.StateMachine,
	conn ConnectionFactory, vtCache VTCacheRefresher, autoDeleteAfter, scheduleTimeout time.Duration, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		Schedules:       schedules,
		Tasks:           tasks,
		Reports:         reports,
		Machine:         sm,
		Conn:            conn,
		VTCache:         vtCache,
		AutoDeleteAfter: autoDeleteAfter,
		ScheduleTimeout: scheduleTimeout,
		Log:             log,
	}
}

// Start registers RunTick on a robfig/cron "@every" spec derived from
// tickInterval and starts the cron driver (grounded on the teacher's own
// gateway scheduler, which drives its fire loop the same way).
func (s *Scheduler) Start(tickInterval time.Duration) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", tickInterval), func() {
		if err := s.RunTick(context.Background()); err != nil {
			s.Log.Error("scheduler tick failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("registering scheduler tick: %w", err)
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunTick performs one controller tick's worth of scheduler work (spec
// §4.I steps 1-5).
func (s *Scheduler) RunTick(ctx context.Context) error {
	if s.AutoDeleteAfter > 0 {
		if _, err := s.Reports.DeleteReportsOlderThan(ctx, time.Now().UTC().Add(-s.AutoDeleteAfter)); err != nil {
			s.Log.Error("auto-delete old reports failed", "error", err)
		}
	}

	if s.VTCache != nil {
		if err := s.VTCache.RefreshVTCache(ctx); err != nil {
			s.Log.Warn("vt cache refresh failed", "error", err)
		}
	}

	actions, err := s.collectActions(ctx)
	if err != nil {
		return fmt.Errorf("scheduler tick: %w", err)
	}

	for _, action := range actions {
		s.dispatchAction(ctx, action)
	}
	return nil
}

// collectActions iterates due schedules, advances each one's next-fire-
// time before recording an action (spec §4.I: "set its next-fire-time
// first, to avoid double-fire under slow ticks"), and deduplicates by task
// uuid (S-1: "multiple permission grants" must not produce duplicate
// start/stop attempts for the same task).
func (s *Scheduler) collectActions(ctx context.Context) ([]Action, error) {
	now := time.Now().UTC()
	due, err := s.Schedules.ListDueSchedules(ctx, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var actions []Action
	for _, sched := range due {
		tasks, err := s.Tasks.IterTaskSchedule(ctx, sched.UUID)
		if err != nil {
			return nil, err
		}

		next, err := NextFireTime(sched, now)
		if err != nil {
			s.Log.Error("computing next fire time failed", "schedule", sched.UUID, "error", err)
			continue
		}
		if err := s.Schedules.SetNextFireTime(ctx, sched.UUID, next); err != nil {
			return nil, err
		}

		missedBySlack := sched.NextFireTime != nil && now.Sub(*sched.NextFireTime) > s.ScheduleTimeout
		if missedBySlack {
			// Cancellation: a start found to be timed out is skipped, but
			// next-fire-time has already been advanced above.
			continue
		}

		if sched.IsOneOff() {
			if err := s.Schedules.SetNextFireTime(ctx, sched.UUID, nil); err != nil {
				return nil, err
			}
		} else if sched.PeriodCount != nil {
			if err := s.Schedules.DecrementPeriodCount(ctx, sched.UUID); err != nil {
				return nil, err
			}
		}

		for _, task := range tasks {
			if seen[task.UUID] {
				continue
			}
			seen[task.UUID] = true
			kind := ActionStart
			if task.Status == model.TaskRunning {
				kind = ActionStop
			}
			actions = append(actions, Action{Kind: kind, TaskUUID: task.UUID, OwnerUUID: task.Owner})
		}
	}
	return actions, nil
}

// dispatchAction is the goroutine-era analogue of spec §4.I step 5's
// double fork: the outer goroutine opens the authenticated session and
// waits on the inner goroutine's result (its "waitpid"), adjusting
// schedule state or calling rescheduleTask depending on outcome.
func (s *Scheduler) dispatchAction(ctx context.Context, action Action) {
	done := make(chan error, 1)
	go func() {
		caller, err := s.Conn.Open(ctx, action.OwnerUUID)
		if err != nil {
			done <- fmt.Errorf("open authenticated session for owner %s: %w", action.OwnerUUID, err)
			return
		}
		switch action.Kind {
		case ActionStart:
			_, err = s.Machine.Start(ctx, action.TaskUUID, caller)
		case ActionStop:
			err = s.Machine.Stop(ctx, action.TaskUUID, caller)
		}
		done <- err
	}()

	if err := <-done; err != nil {
		s.Log.Warn("scheduler action failed, will retry next due fire", "task", action.TaskUUID, "kind", action.Kind, "error", err)
		s.rescheduleTask(ctx, action.TaskUUID)
	}
}

// rescheduleTask is the failure path's fallback when a scheduled action
// could not be applied (e.g. the task was mid-transition already): it
// leaves the task's own next-fire-time untouched, since that was already
// advanced in collectActions, so the next tick's due-schedule scan is the
// natural retry.
func (s *Scheduler) rescheduleTask(ctx context.Context, taskUUID string) {
	if _, err := s.Tasks.FindTask(ctx, taskUUID); err != nil && !apperror.Is(err, apperror.NotFound) {
		s.Log.Error("reschedule_task: task lookup failed", "task", taskUUID, "error", err)
	}
}
