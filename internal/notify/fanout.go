package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"scanattend/internal/attendance"
	"scanattend/internal/directory"
	"scanattend/internal/metrics"
	"scanattend/internal/queue"
)

// Publisher hands attendance results to the queue. It satisfies
// attendance.EventPublisher.
type Publisher struct {
	q queue.Queue
}

func NewPublisher(q queue.Queue) *Publisher {
	return &Publisher{q: q}
}

func (p *Publisher) Publish(ctx context.Context, res attendance.Result) error {
	body, err := json.Marshal(EventFromResult(res))
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return p.q.Publish(ctx, queue.Message{Type: EventType, Body: body})
}

// GuardianLookup returns the guardian links of a person.
type GuardianLookup interface {
	GuardiansOf(ctx context.Context, personID string) ([]directory.GuardianLink, error)
}

// Failure records one guardian whose send did not succeed.
type Failure struct {
	To  string
	Err error
}

// Report summarises one dispatch.
type Report struct {
	Recipients int
	Sent       int
	Failed     []Failure
}

// Fanout sends one notification per linked guardian. Sends are independent:
// each runs on its own goroutine under its own timeout.
type Fanout struct {
	guardians GuardianLookup
	mailer    Mailer
	loc       *time.Location
	timeout   time.Duration
	log       logrus.FieldLogger
}

func NewFanout(guardians GuardianLookup, mailer Mailer, loc *time.Location, timeout time.Duration, log logrus.FieldLogger) *Fanout {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fanout{guardians: guardians, mailer: mailer, loc: loc, timeout: timeout, log: log}
}

// Dispatch notifies every guardian of ev.PersonID. A person without guardians
// is a no-op. The returned error covers only the guardian lookup; per-guardian
// failures are logged and listed in the report.
func (f *Fanout) Dispatch(ctx context.Context, ev Event) (Report, error) {
	links, err := f.guardians.GuardiansOf(ctx, ev.PersonID)
	if err != nil {
		return Report{}, errors.Wrapf(err, "guardians of %s", ev.PersonID)
	}
	rep := Report{Recipients: len(links)}
	if len(links) == 0 {
		return rep, nil
	}

	errs := make([]error, len(links))
	var wg sync.WaitGroup
	for i, link := range links {
		wg.Add(1)
		go func(i int, n Notification) {
			defer wg.Done()
			errs[i] = f.send(ctx, n)
		}(i, Compose(ev, link, f.loc))
	}
	wg.Wait()

	for i, err := range errs {
		to := links[i].NotificationEmail
		if err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			f.log.WithFields(logrus.Fields{
				"person_id":      ev.PersonID,
				"edge":           ev.Edge,
				"guardian_email": to,
			}).Error("guardian notification failed: " + err.Error())
			rep.Failed = append(rep.Failed, Failure{To: to, Err: err})
			continue
		}
		metrics.Notifications.WithLabelValues("sent").Inc()
		rep.Sent++
	}
	return rep, nil
}

// send bounds one delivery by the fan-out timeout, even for transports that
// ignore their context. A panicking transport counts as a failed send.
func (f *Fanout) send(ctx context.Context, n Notification) (err error) {
	sctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- errors.Errorf("mailer panic: %v", r)
			}
		}()
		done <- f.mailer.Send(sctx, n)
	}()
	select {
	case err = <-done:
		return err
	case <-sctx.Done():
		return errors.Wrapf(sctx.Err(), "send to %s", n.To)
	}
}
