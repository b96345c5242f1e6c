package attendance

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"scanattend/internal/directory"
	"scanattend/internal/keylock"
	"scanattend/internal/metrics"
)

// Recorder is the per-(person, day) check-in/check-out state machine:
//
//	no record --scan--> open (check-in) --scan--> closed (check-out)
//
// A scan of a closed day is rejected with ErrAlreadyClosed.
type Recorder struct {
	repo   Repository
	locker keylock.Locker
	policy Policy
	log    logrus.FieldLogger
}

func NewRecorder(repo Repository, locker keylock.Locker, policy Policy, log logrus.FieldLogger) *Recorder {
	return &Recorder{repo: repo, locker: locker, policy: policy, log: log}
}

// Policy returns the clock policy the recorder classifies with.
func (r *Recorder) Policy() Policy { return r.policy }

// Record applies one resolved scan of p at time at. The lookup, the branch
// decision and the write run under the (person, day) lock; a conditional write
// that still loses a race is retried once on a fresh read.
func (r *Recorder) Record(ctx context.Context, p directory.Person, at time.Time, recordedBy string) (Result, error) {
	day := r.policy.Day(at)
	unlock, err := r.locker.Lock(ctx, lockKey(p.ID, day))
	if err != nil {
		return Result{}, errors.Wrap(err, "lock attendance key")
	}
	defer unlock()

	started := time.Now()
	defer func() { metrics.RecordLatency.Observe(time.Since(started).Seconds()) }()

	res, err := r.transition(ctx, p, day, at, recordedBy)
	if errors.Is(err, ErrRaceLost) {
		metrics.RaceRetries.Inc()
		r.log.WithFields(logrus.Fields{"person_id": p.ID, "day": day}).Warn("attendance write lost a race, retrying")
		res, err = r.transition(ctx, p, day, at, recordedBy)
		if errors.Is(err, ErrRaceLost) {
			return Result{}, errors.Wrapf(err, "retry for person %s on %s", p.ID, day)
		}
	}
	return res, err
}

func (r *Recorder) transition(ctx context.Context, p directory.Person, day string, at time.Time, by string) (Result, error) {
	rec, err := r.repo.Get(ctx, p.ID, day)
	switch {
	case errors.Is(err, ErrNotFound):
		return r.checkIn(ctx, p, day, at, by)
	case err != nil:
		return Result{}, err
	case rec.Closed():
		return Result{}, ErrAlreadyClosed
	}

	// Scans serialized out of timestamp order must not close before they opened.
	out := at
	if out.Before(rec.CheckIn) {
		out = rec.CheckIn
	}
	rec, err = r.repo.CloseOut(ctx, rec.ID, out, by)
	if err != nil {
		return Result{}, err
	}
	return Result{Edge: EdgeCheckOut, Record: rec, Person: p}, nil
}

func (r *Recorder) checkIn(ctx context.Context, p directory.Person, day string, at time.Time, by string) (Result, error) {
	rec, err := r.repo.Insert(ctx, Record{
		PersonID:   p.ID,
		PersonName: p.Name,
		PersonRole: string(p.Role),
		Day:        day,
		CheckIn:    at,
		Status:     r.policy.StatusAt(at),
		RecordedBy: by,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Edge: EdgeCheckIn, Record: rec, Person: p}, nil
}

func lockKey(personID, day string) string {
	return "attendance:" + personID + ":" + day
}
