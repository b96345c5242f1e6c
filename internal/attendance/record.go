package attendance

import (
	"time"

	"github.com/pkg/errors"

	"scanattend/internal/directory"
)

// DayLayout is the calendar-day key format.
const DayLayout = "2006-01-02"

// Status classifies a day's attendance. It is fixed at check-in.
type Status string

const (
	StatusPresent Status = "present"
	StatusLate    Status = "late"
	StatusAbsent  Status = "absent"
)

// Edge is the transition fired by a scan.
type Edge string

const (
	EdgeCheckIn  Edge = "check_in"
	EdgeCheckOut Edge = "check_out"
)

var (
	ErrNotFound      = errors.New("attendance record not found")
	ErrAlreadyClosed = errors.New("already checked in and out today")
	ErrInvalidDay    = errors.New("invalid day")

	// ErrRaceLost is returned by a conditional write whose precondition no longer
	// holds because a concurrent scan of the same key won.
	ErrRaceLost = errors.New("concurrent attendance update")
)

// Record is the attendance of one person on one calendar day.
type Record struct {
	ID           string     `json:"id"`
	PersonID     string     `json:"person_id"`
	PersonName   string     `json:"person_name"`
	PersonRole   string     `json:"person_role"`
	Day          string     `json:"day"`
	CheckIn      time.Time  `json:"check_in"`
	CheckOut     *time.Time `json:"check_out,omitempty"`
	Status       Status     `json:"status"`
	RecordedBy   string     `json:"recorded_by"`
	CheckedOutBy string     `json:"checked_out_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Closed reports whether both edges have fired.
func (r Record) Closed() bool { return r.CheckOut != nil }

// Result is what a successful transition hands back to the caller and on to the
// notification fan-out.
type Result struct {
	Edge   Edge             `json:"edge"`
	Record Record           `json:"record"`
	Person directory.Person `json:"person"`
}

// At is the timestamp of the edge that fired.
func (r Result) At() time.Time {
	if r.Edge == EdgeCheckOut && r.Record.CheckOut != nil {
		return *r.Record.CheckOut
	}
	return r.Record.CheckIn
}

// Policy holds the school clock: the day boundary and the lateness threshold.
type Policy struct {
	Start    time.Duration // start of day as offset from local midnight
	Grace    time.Duration
	Location *time.Location
}

func (p Policy) loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

// Day returns the local calendar day of t.
func (p Policy) Day(t time.Time) string {
	return t.In(p.loc()).Format(DayLayout)
}

// Threshold is the latest on-time check-in for the day containing t.
func (p Policy) Threshold(t time.Time) time.Time {
	local := t.In(p.loc())
	h := int(p.Start / time.Hour)
	m := int((p.Start % time.Hour) / time.Minute)
	start := time.Date(local.Year(), local.Month(), local.Day(), h, m, 0, 0, p.loc())
	return start.Add(p.Grace)
}

// StatusAt classifies a check-in at t: present up to and including the
// threshold, late after it.
func (p Policy) StatusAt(t time.Time) Status {
	if t.After(p.Threshold(t)) {
		return StatusLate
	}
	return StatusPresent
}

// ParseDay validates a YYYY-MM-DD day key.
func ParseDay(v string) (time.Time, error) {
	d, err := time.Parse(DayLayout, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidDay, "%q", v)
	}
	return d, nil
}
