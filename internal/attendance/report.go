package attendance

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"scanattend/internal/directory"
)

// PeopleLister lists directory entries by role.
type PeopleLister interface {
	People(ctx context.Context, role directory.Role) ([]directory.Person, error)
}

// Reports answers read-side questions over stored records.
type Reports struct {
	repo   Repository
	people PeopleLister
}

func NewReports(repo Repository, people PeopleLister) *Reports {
	return &Reports{repo: repo, people: people}
}

// RosterEntry is one person's standing on a day. A person without a record is
// absent; no row is written for that.
type RosterEntry struct {
	Person directory.Person `json:"person"`
	Status Status           `json:"status"`
	Record *Record          `json:"record,omitempty"`
}

// Roster lists everyone with the given role (all roles when empty) and their
// attendance on day.
func (rp *Reports) Roster(ctx context.Context, day string, role directory.Role) ([]RosterEntry, error) {
	if _, err := ParseDay(day); err != nil {
		return nil, err
	}
	people, err := rp.people.People(ctx, role)
	if err != nil {
		return nil, errors.Wrap(err, "list people")
	}
	records, err := rp.repo.List(ctx, Filter{Day: day, Role: string(role)})
	if err != nil {
		return nil, err
	}
	byPerson := make(map[string]Record, len(records))
	for _, rec := range records {
		byPerson[rec.PersonID] = rec
	}

	out := make([]RosterEntry, 0, len(people))
	for _, p := range people {
		entry := RosterEntry{Person: p, Status: StatusAbsent}
		if rec, ok := byPerson[p.ID]; ok {
			rec := rec
			entry.Status = rec.Status
			entry.Record = &rec
		}
		out = append(out, entry)
	}
	return out, nil
}

// Stats summarises a person's attendance.
type Stats struct {
	TotalDays      int     `json:"total_days"`
	PresentDays    int     `json:"present_days"`
	AbsentDays     int     `json:"absent_days"`
	LateDays       int     `json:"late_days"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// Stats counts present (on time or late) and late days for personID. When both
// from and to are given the total is the inclusive span of calendar days, so
// days without a record count as absent; otherwise it is the number of records.
func (rp *Reports) Stats(ctx context.Context, personID, from, to string) (Stats, error) {
	f := Filter{PersonID: personID}
	total := -1
	if from != "" || to != "" {
		if from == "" || to == "" {
			return Stats{}, errors.Wrap(ErrInvalidDay, "from and to must be given together")
		}
		start, err := ParseDay(from)
		if err != nil {
			return Stats{}, err
		}
		end, err := ParseDay(to)
		if err != nil {
			return Stats{}, err
		}
		if end.Before(start) {
			return Stats{}, errors.Wrap(ErrInvalidDay, "to before from")
		}
		total = int(end.Sub(start).Hours()/24) + 1
		f.From, f.To = from, to
	}

	records, err := rp.repo.List(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, rec := range records {
		switch rec.Status {
		case StatusPresent:
			st.PresentDays++
		case StatusLate:
			st.PresentDays++
			st.LateDays++
		}
	}
	if total < 0 {
		total = len(records)
	}
	st.TotalDays = total
	st.AbsentDays = total - st.PresentDays
	if st.AbsentDays < 0 {
		st.AbsentDays = 0
	}
	if total > 0 {
		st.AttendanceRate = math.Round(float64(st.PresentDays)/float64(total)*10000) / 100
	}
	return st, nil
}
