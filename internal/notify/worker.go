package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"scanattend/internal/queue"
)

// Worker consumes attendance events from the queue and dispatches them.
type Worker struct {
	q           queue.Queue
	fanout      *Fanout
	log         logrus.FieldLogger
	concurrency int
}

// NewWorker builds a worker handling up to concurrency events at once.
func NewWorker(q queue.Queue, fanout *Fanout, concurrency int, log logrus.FieldLogger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{q: q, fanout: fanout, log: log, concurrency: concurrency}
}

// Run blocks until ctx ends and the queue has handed over its backlog, then
// waits for in-flight dispatches.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.q.Consume(ctx)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	w.log.Info("notification worker started")
	drained := 0
	for msg := range messages {
		if ctx.Err() != nil {
			drained++
		}
		if msg.Type != EventType {
			w.log.WithField("type", msg.Type).Warn("skip unknown message type")
			continue
		}
		var ev Event
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			w.log.Error("drop undecodable event: " + err.Error())
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			// Dispatch runs to completion even while shutting down; sends are
			// bounded by the fan-out timeout.
			rep, err := w.fanout.Dispatch(context.WithoutCancel(ctx), ev)
			entry := w.log.WithFields(logrus.Fields{
				"person_id": ev.PersonID,
				"edge":      ev.Edge,
				"day":       ev.Day,
			})
			if err != nil {
				entry.Error("dispatch failed: " + err.Error())
				return
			}
			entry.WithFields(logrus.Fields{
				"recipients": rep.Recipients,
				"sent":       rep.Sent,
				"failed":     len(rep.Failed),
			}).Info("event dispatched")
		}()
	}
	w.log.WithField("drained", drained).Info("notification worker stopped")
	return nil
}
