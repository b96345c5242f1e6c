package attendance

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"scanattend/internal/directory"
	"scanattend/internal/metrics"
)

// IdentityResolver maps a scan payload to a person.
type IdentityResolver interface {
	Resolve(ctx context.Context, payload string) (directory.Person, error)
}

// EventPublisher hands a finished transition to the notification side.
type EventPublisher interface {
	Publish(ctx context.Context, res Result) error
}

// Service runs the attendance pipeline for one submitted payload: resolve the
// badge, apply the state machine, then hand the event off without waiting for it.
type Service struct {
	resolver       IdentityResolver
	recorder       *Recorder
	publisher      EventPublisher
	log            logrus.FieldLogger
	now            func() time.Time
	handoffTimeout time.Duration
	pending        sync.WaitGroup
}

// NewService wires the pipeline. publisher may be nil, in which case events are
// not forwarded anywhere.
func NewService(resolver IdentityResolver, recorder *Recorder, publisher EventPublisher, log logrus.FieldLogger) *Service {
	return &Service{
		resolver:       resolver,
		recorder:       recorder,
		publisher:      publisher,
		log:            log,
		now:            time.Now,
		handoffTimeout: 5 * time.Second,
	}
}

// SetClock replaces the time source used to stamp scans.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Policy returns the school clock the recorder classifies with.
func (s *Service) Policy() Policy { return s.recorder.Policy() }

// Submit records the scan of payload by operator recordedBy.
func (s *Service) Submit(ctx context.Context, payload, recordedBy string) (Result, error) {
	at := s.now()
	person, err := s.resolver.Resolve(ctx, strings.TrimSpace(payload))
	if err != nil {
		if errors.Is(err, directory.ErrUnknownIdentity) {
			metrics.Scans.WithLabelValues("unknown_identity").Inc()
		} else {
			metrics.Scans.WithLabelValues("error").Inc()
		}
		return Result{}, err
	}

	res, err := s.recorder.Record(ctx, person, at, recordedBy)
	if err != nil {
		if errors.Is(err, ErrAlreadyClosed) {
			metrics.Scans.WithLabelValues("already_closed").Inc()
		} else {
			metrics.Scans.WithLabelValues("error").Inc()
		}
		return Result{}, err
	}

	metrics.Scans.WithLabelValues("recorded").Inc()
	metrics.Edges.WithLabelValues(string(res.Edge), string(res.Record.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"person_id": person.ID,
		"day":       res.Record.Day,
		"edge":      res.Edge,
		"status":    res.Record.Status,
	}).Info("attendance recorded")

	s.handoff(ctx, res)
	return res, nil
}

// handoff publishes on its own goroutine so a slow queue never delays the scan
// response. The request context's values are kept but not its cancellation.
func (s *Service) handoff(ctx context.Context, res Result) {
	if s.publisher == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.handoffTimeout)
		defer cancel()
		if err := s.publisher.Publish(pctx, res); err != nil {
			metrics.Handoffs.WithLabelValues("failed").Inc()
			s.log.WithFields(logrus.Fields{
				"person_id": res.Person.ID,
				"edge":      res.Edge,
			}).Error("queue publish failed: " + err.Error())
			return
		}
		metrics.Handoffs.WithLabelValues("published").Inc()
	}()
}

// Wait blocks until in-flight hand-offs finish; used on shutdown.
func (s *Service) Wait() {
	s.pending.Wait()
}
