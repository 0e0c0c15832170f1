package scheduler

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/ov-project/govmd/internal/model"
)

// NextFireTime computes the next occurrence strictly after now for sched,
// honoring its IANA zone (spec §4.I "compute next fire time from
// (icalendar, now, zone)"). rrule-go is the one RFC 5545 implementation in
// the dependency set, so the raw RRULE/DTSTART math lives here rather than
// being re-derived by hand.
func NextFireTime(sched model.Schedule, now time.Time) (*time.Time, error) {
	loc := time.UTC
	if sched.Zone != "" {
		var err error
		loc, err = time.LoadLocation(sched.Zone)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: loading zone %q: %w", sched.UUID, sched.Zone, err)
		}
	}

	set, err := rrule.StrToRRuleSet(sched.ICalendar)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: parsing icalendar: %w", sched.UUID, err)
	}

	localNow := now.In(loc)
	next := set.After(localNow, false)
	if next.IsZero() {
		return nil, nil
	}
	utc := next.UTC()
	return &utc, nil
}
