package model

import "time"

// Schedule is an iCalendar-derived recurrence (spec §3). Next-fire-time
// computation from (ICalendar, now, Zone) is delegated to
// internal/scheduler, which is the one place this repo leans on a
// third-party RRULE library rather than re-deriving calendar math.
type Schedule struct {
	UUID         string         `db:"uuid"`
	ICalendar    string         `db:"icalendar"`
	Zone         string         `db:"zone"` // IANA time zone name
	Duration     *time.Duration `db:"duration"`
	PeriodCount  *int           `db:"period_count"` // remaining fire count, nil = unbounded
	NextFireTime *time.Time     `db:"next_fire_time"`
}

// IsOneOff reports whether this schedule is "period=0 && duration=0": a
// single fire that should be detached from its task after it succeeds
// (spec §4.I "Cancellation").
func (s Schedule) IsOneOff() bool {
	noDuration := s.Duration == nil || *s.Duration == 0
	noPeriod := s.PeriodCount == nil || *s.PeriodCount == 0
	return noDuration && noPeriod
}
