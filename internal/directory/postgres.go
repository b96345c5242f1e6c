package directory

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"scanattend/internal/store"
)

// Postgres persists the directory in Postgres.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const personColumns = `id, name, email, role, badge_id, created_at`

func scanPerson(row interface{ Scan(...any) error }) (Person, error) {
	var p Person
	var role string
	if err := row.Scan(&p.ID, &p.Name, &p.Email, &role, &p.BadgeID, &p.CreatedAt); err != nil {
		return Person{}, err
	}
	p.Role = Role(role)
	return p, nil
}

// UpsertPerson inserts or updates a person keyed by id.
func (s *Postgres) UpsertPerson(ctx context.Context, p Person) (Person, error) {
	if err := p.Validate(); err != nil {
		return Person{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO people (id, name, email, role, badge_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			badge_id = EXCLUDED.badge_id,
			updated_at = NOW()
		RETURNING `+personColumns,
		p.ID, p.Name, p.Email, string(p.Role), p.BadgeID)
	out, err := scanPerson(row)
	if err != nil {
		if store.IsUniqueViolation(err, "people_badge_id_key") {
			return Person{}, ErrDuplicateBadge
		}
		return Person{}, errors.Wrap(err, "upsert person")
	}
	return out, nil
}

func (s *Postgres) Person(ctx context.Context, id string) (Person, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM people WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	return p, errors.Wrap(err, "get person")
}

// PersonByBadge matches badge_id exactly; the column uses the default
// (case-sensitive) collation.
func (s *Postgres) PersonByBadge(ctx context.Context, badgeID string) (Person, error) {
	p, err := scanPerson(s.db.QueryRowContext(ctx, `SELECT `+personColumns+` FROM people WHERE badge_id = $1`, badgeID))
	if errors.Is(err, sql.ErrNoRows) {
		return Person{}, ErrNotFound
	}
	return p, errors.Wrap(err, "get person by badge")
}

func (s *Postgres) People(ctx context.Context, role Role) ([]Person, error) {
	query := `SELECT ` + personColumns + ` FROM people`
	var args []any
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, string(role))
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list people")
	}
	defer rows.Close()
	var out []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) LinkGuardian(ctx context.Context, guardianID, studentID, email string) (GuardianLink, error) {
	guardian, err := s.Person(ctx, guardianID)
	if err != nil {
		return GuardianLink{}, err
	}
	student, err := s.Person(ctx, studentID)
	if err != nil {
		return GuardianLink{}, err
	}
	if err := checkLinkRoles(guardian, student); err != nil {
		return GuardianLink{}, err
	}
	addr, err := resolveLinkEmail(guardian, email)
	if err != nil {
		return GuardianLink{}, err
	}

	link := GuardianLink{GuardianID: guardianID, GuardianName: guardian.Name, StudentID: studentID}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO guardian_links (guardian_id, student_id, notification_email)
		VALUES ($1, $2, $3)
		ON CONFLICT (guardian_id, student_id) DO UPDATE SET
			notification_email = EXCLUDED.notification_email,
			updated_at = NOW()
		RETURNING notification_email, updated_at
	`, guardianID, studentID, addr).Scan(&link.NotificationEmail, &link.UpdatedAt)
	if err != nil {
		return GuardianLink{}, errors.Wrap(err, "link guardian")
	}
	return link, nil
}

func (s *Postgres) GuardiansOf(ctx context.Context, personID string) ([]GuardianLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.guardian_id, g.name, l.student_id, l.notification_email, l.updated_at
		FROM guardian_links l
		JOIN people g ON g.id = l.guardian_id
		WHERE l.student_id = $1
		ORDER BY l.guardian_id
	`, personID)
	if err != nil {
		return nil, errors.Wrap(err, "list guardians")
	}
	defer rows.Close()
	var out []GuardianLink
	for rows.Next() {
		var l GuardianLink
		if err := rows.Scan(&l.GuardianID, &l.GuardianName, &l.StudentID, &l.NotificationEmail, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
