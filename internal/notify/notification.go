// Package notify fans attendance edges out to linked guardians.
package notify

import (
	"time"

	"scanattend/internal/attendance"
	"scanattend/internal/directory"
)

// EventType is the queue message type carrying an Event.
const EventType = "attendance.edge"

// Event is the queued form of a finished attendance transition. It carries
// enough to compose messages without another record lookup.
type Event struct {
	Edge       attendance.Edge   `json:"edge"`
	PersonID   string            `json:"person_id"`
	PersonName string            `json:"person_name"`
	PersonRole string            `json:"person_role"`
	Day        string            `json:"day"`
	At         time.Time         `json:"at"`
	Status     attendance.Status `json:"status"`
}

// EventFromResult converts a recorder result for publishing.
func EventFromResult(res attendance.Result) Event {
	return Event{
		Edge:       res.Edge,
		PersonID:   res.Person.ID,
		PersonName: res.Person.Name,
		PersonRole: string(res.Person.Role),
		Day:        res.Record.Day,
		At:         res.At(),
		Status:     res.Record.Status,
	}
}

// Notification is one message to one guardian.
type Notification struct {
	To         string
	Guardian   string
	GuardianID string
	Subject    string
	Body       string
}

// Compose builds the message for link about ev, with the time shown in loc.
func Compose(ev Event, link directory.GuardianLink, loc *time.Location) Notification {
	if loc == nil {
		loc = time.Local
	}
	clock := ev.At.In(loc).Format("15:04:05")
	n := Notification{
		To:         link.NotificationEmail,
		Guardian:   link.GuardianName,
		GuardianID: link.GuardianID,
	}
	if ev.Edge == attendance.EdgeCheckOut {
		n.Subject = "Check-out: " + ev.PersonName
		n.Body = ev.PersonName + " checked out at " + clock
	} else {
		n.Subject = "Check-in: " + ev.PersonName
		n.Body = ev.PersonName + " checked in at " + clock
	}
	return n
}
