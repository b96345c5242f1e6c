package station

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"scanattend/internal/attendance"
	"scanattend/internal/scanner"
)

// Submitter sends a payload to the attendance API.
type Submitter interface {
	Submit(ctx context.Context, payload string) (Outcome, error)
}

// Runner submits emitted payloads in order on its own goroutine so a slow API
// never stalls key reading.
type Runner struct {
	client   Submitter
	log      logrus.FieldLogger
	timeout  time.Duration
	payloads chan string
}

func NewRunner(client Submitter, log logrus.FieldLogger) *Runner {
	return &Runner{
		client:   client,
		log:      log,
		timeout:  15 * time.Second,
		payloads: make(chan string, 32),
	}
}

// Enqueue is the session's emit callback. A payload arriving while the backlog
// is full is dropped and logged; the operator scans again.
func (r *Runner) Enqueue(payload string) {
	select {
	case r.payloads <- payload:
	default:
		r.log.WithField("payload", payload).Warn("submit backlog full, scan dropped")
	}
}

// Run submits payloads until ctx ends.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-r.payloads:
			r.submit(ctx, p)
		}
	}
}

func (r *Runner) submit(ctx context.Context, payload string) {
	sctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.client.Submit(sctx, payload)
	if err != nil {
		entry := r.log.WithField("payload", payload)
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case http.StatusNotFound:
				entry.Warn("badge not recognised")
				return
			case http.StatusConflict:
				entry.Warn("already checked in and out today")
				return
			}
		}
		entry.Error("submit failed: " + err.Error())
		return
	}

	verb := "checked in"
	if out.Edge == attendance.EdgeCheckOut {
		verb = "checked out"
	}
	r.log.WithFields(logrus.Fields{
		"person": out.Record.PersonName,
		"status": out.Record.Status,
	}).Info(out.Record.PersonName + " " + verb)
}

// FeedLines delivers each line of r to the session as an optically decoded
// payload. Used when an external decoder writes one payload per line.
func FeedLines(r io.Reader, s *scanner.Session) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := s.Deliver(sc.Text()); err != nil {
			return err
		}
	}
	return errors.Wrap(sc.Err(), "read payload lines")
}
