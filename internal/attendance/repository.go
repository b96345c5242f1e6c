package attendance

import (
	"context"
	"time"
)

// Filter narrows record listings. Zero fields do not filter; Limit 0 means no
// limit.
type Filter struct {
	PersonID string
	Day      string
	From     string
	To       string
	Role     string
	Limit    int
	Offset   int
}

// Repository stores attendance records, at most one per (person, day).
//
// Insert and CloseOut are conditional: Insert fails with ErrRaceLost when a
// record for the same (person, day) already exists, and CloseOut fails with
// ErrRaceLost when the record already has a check-out.
type Repository interface {
	Get(ctx context.Context, personID, day string) (Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	CloseOut(ctx context.Context, id string, at time.Time, by string) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
}
