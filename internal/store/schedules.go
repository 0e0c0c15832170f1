package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ov-project/govmd/internal/model"
)

// Schedules wraps a DB with schedule-record lookups (spec §3, §4.I).
type Schedules struct {
	db DB
}

func NewSchedules(db DB) *Schedules { return &Schedules{db: db} }

type scheduleRow struct {
	UUID         string        `db:"uuid"`
	ICalendar    string        `db:"icalendar"`
	Zone         string        `db:"zone"`
	DurationSecs sql.NullInt64 `db:"duration_secs"`
	PeriodCount  sql.NullInt64 `db:"period_count"`
	NextFireTime sql.NullTime  `db:"next_fire_time"`
}

func (row scheduleRow) toModel() model.Schedule {
	s := model.Schedule{UUID: row.UUID, ICalendar: row.ICalendar, Zone: row.Zone}
	if row.DurationSecs.Valid {
		d := time.Duration(row.DurationSecs.Int64) * time.Second
		s.Duration = &d
	}
	if row.PeriodCount.Valid {
		p := int(row.PeriodCount.Int64)
		s.PeriodCount = &p
	}
	if row.NextFireTime.Valid {
		t := row.NextFireTime.Time
		s.NextFireTime = &t
	}
	return s
}

func rowFromSchedule(s *model.Schedule) scheduleRow {
	row := scheduleRow{UUID: s.UUID, ICalendar: s.ICalendar, Zone: s.Zone}
	if s.Duration != nil {
		row.DurationSecs = sql.NullInt64{Int64: int64(*s.Duration / time.Second), Valid: true}
	}
	if s.PeriodCount != nil {
		row.PeriodCount = sql.NullInt64{Int64: int64(*s.PeriodCount), Valid: true}
	}
	if s.NextFireTime != nil {
		row.NextFireTime = sql.NullTime{Time: *s.NextFireTime, Valid: true}
	}
	return row
}

func (s *Schedules) FindSchedule(ctx context.Context, scheduleUUID string) (*model.Schedule, error) {
	var row scheduleRow
	err := s.db.Get(ctx, &row, `SELECT uuid, icalendar, zone, duration_secs, period_count,
		next_fire_time FROM schedules WHERE uuid = ?`, scheduleUUID)
	if err != nil {
		return nil, fmt.Errorf("find schedule %s: %w", scheduleUUID, err)
	}
	sched := row.toModel()
	return &sched, nil
}

func (s *Schedules) CreateSchedule(ctx context.Context, sched *model.Schedule) error {
	row := rowFromSchedule(sched)
	if _, err := s.db.Insert(ctx, "schedules", row); err != nil {
		return fmt.Errorf("create schedule %s: %w", sched.UUID, err)
	}
	return nil
}

// SetNextFireTime persists the scheduler's computed next fire time, or
// clears it (nil) once a one-off schedule has fired (spec §4.I
// Cancellation).
func (s *Schedules) SetNextFireTime(ctx context.Context, scheduleUUID string, next *time.Time) error {
	if next == nil {
		return s.db.Exec(ctx, `UPDATE schedules SET next_fire_time = NULL WHERE uuid = ?`, scheduleUUID)
	}
	return s.db.Exec(ctx, `UPDATE schedules SET next_fire_time = ? WHERE uuid = ?`, *next, scheduleUUID)
}

// DecrementPeriodCount consumes one fire of a bounded schedule.
func (s *Schedules) DecrementPeriodCount(ctx context.Context, scheduleUUID string) error {
	return s.db.Exec(ctx,
		`UPDATE schedules SET period_count = period_count - 1 WHERE uuid = ? AND period_count > 0`,
		scheduleUUID)
}

// ListAllSchedules returns every schedule, for the admin API's unfiltered
// listing (unlike ListDueSchedules, this ignores next_fire_time).
func (s *Schedules) ListAllSchedules(ctx context.Context) ([]model.Schedule, error) {
	var rows []scheduleRow
	err := s.db.Select(ctx, &rows, `SELECT uuid, icalendar, zone, duration_secs, period_count,
		next_fire_time FROM schedules`)
	if err != nil {
		return nil, fmt.Errorf("list all schedules: %w", err)
	}
	out := make([]model.Schedule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// DeleteSchedule removes a schedule record. Callers are responsible for
// clearing any task's schedule_uuid reference first.
func (s *Schedules) DeleteSchedule(ctx context.Context, scheduleUUID string) error {
	if err := s.db.Exec(ctx, `DELETE FROM schedules WHERE uuid = ?`, scheduleUUID); err != nil {
		return fmt.Errorf("delete schedule %s: %w", scheduleUUID, err)
	}
	return nil
}

// ListDueSchedules returns every schedule whose next_fire_time is at or
// before now, for the controller tick to act on (spec §4.I).
func (s *Schedules) ListDueSchedules(ctx context.Context, now time.Time) ([]model.Schedule, error) {
	var rows []scheduleRow
	err := s.db.Select(ctx, &rows, `SELECT uuid, icalendar, zone, duration_secs, period_count,
		next_fire_time FROM schedules WHERE next_fire_time IS NOT NULL AND next_fire_time <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("list due schedules: %w", err)
	}
	out := make([]model.Schedule, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
