package directory

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

// Role is the part a person plays in the school.
type Role string

const (
	RoleStudent  Role = "student"
	RoleTeacher  Role = "teacher"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
	RoleGuardian Role = "guardian"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleStaff, RoleAdmin, RoleGuardian:
		return true
	}
	return false
}

var (
	ErrUnknownIdentity = errors.New("unknown identity")
	ErrNotFound        = errors.New("person not found")
	ErrInvalidPerson   = errors.New("invalid person")
	ErrDuplicateBadge  = errors.New("badge already assigned")
	ErrInvalidLink     = errors.New("invalid guardian link")
)

// Person participates in attendance. BadgeID is the opaque value encoded in the
// person's QR badge and is distinct from ID.
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	BadgeID   string    `json:"badge_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields every stored person must carry.
func (p Person) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return errors.Wrap(ErrInvalidPerson, "name required")
	case hasControl(p.Name), hasControl(p.Email), hasControl(p.BadgeID):
		return errors.Wrap(ErrInvalidPerson, "control characters not allowed")
	case !p.Role.Valid():
		return errors.Wrapf(ErrInvalidPerson, "unknown role %q", p.Role)
	case p.BadgeID == "":
		return errors.Wrap(ErrInvalidPerson, "badge id required")
	}
	return nil
}

// GuardianLink relates a guardian to a student for notification purposes.
type GuardianLink struct {
	GuardianID        string    `json:"guardian_id"`
	GuardianName      string    `json:"guardian_name"`
	StudentID         string    `json:"student_id"`
	NotificationEmail string    `json:"notification_email"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store is the user directory as seen by the attendance core and its admin routes.
type Store interface {
	UpsertPerson(ctx context.Context, p Person) (Person, error)
	Person(ctx context.Context, id string) (Person, error)
	PersonByBadge(ctx context.Context, badgeID string) (Person, error)
	People(ctx context.Context, role Role) ([]Person, error)
	// LinkGuardian creates the (guardian, student) link or, when it already
	// exists, replaces its notification email. An empty email falls back to the
	// guardian's own address.
	LinkGuardian(ctx context.Context, guardianID, studentID, email string) (GuardianLink, error)
	GuardiansOf(ctx context.Context, personID string) ([]GuardianLink, error)
}

// BadgeLookup is the part of the directory the resolver needs.
type BadgeLookup interface {
	PersonByBadge(ctx context.Context, badgeID string) (Person, error)
}

// Resolver maps decoded scan payloads to people.
type Resolver struct {
	lookup BadgeLookup
}

func NewResolver(lookup BadgeLookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve matches payload exactly (case-sensitive) against known badge ids.
func (r *Resolver) Resolve(ctx context.Context, payload string) (Person, error) {
	if payload == "" {
		return Person{}, ErrUnknownIdentity
	}
	p, err := r.lookup.PersonByBadge(ctx, payload)
	if errors.Is(err, ErrNotFound) {
		return Person{}, ErrUnknownIdentity
	}
	if err != nil {
		return Person{}, errors.Wrap(err, "resolve badge")
	}
	return p, nil
}

func resolveLinkEmail(guardian Person, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		email = guardian.Email
	}
	if email == "" {
		return "", errors.Wrap(ErrInvalidLink, "no notification email and guardian has none")
	}
	if hasControl(email) {
		return "", errors.Wrap(ErrInvalidLink, "control characters in notification email")
	}
	return email, nil
}

// hasControl reports whether s carries characters that would break a mail
// header line.
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func checkLinkRoles(guardian, student Person) error {
	if guardian.Role != RoleGuardian {
		return errors.Wrapf(ErrInvalidLink, "person %s is not a guardian", guardian.ID)
	}
	if student.Role != RoleStudent {
		return errors.Wrapf(ErrInvalidLink, "person %s is not a student", student.ID)
	}
	return nil
}
