package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB opens a Postgres pool and pings it. The returned DB is usable for Close
// even when the ping fails.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return &DB{Client: db}, errors.Wrap(db.PingContext(ctx), "ping postgres")
}

// Healthy reports whether the database answers a ping.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// Migrate creates the schema when it does not exist yet.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, schema)
	return errors.Wrap(err, "migrate")
}

const schema = `
CREATE TABLE IF NOT EXISTS people (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	email       TEXT NOT NULL DEFAULT '',
	role        TEXT NOT NULL CHECK (role IN ('student', 'teacher', 'staff', 'admin', 'guardian')),
	badge_id    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT people_badge_id_key UNIQUE (badge_id)
);

CREATE TABLE IF NOT EXISTS guardian_links (
	guardian_id         TEXT NOT NULL REFERENCES people(id) ON DELETE CASCADE,
	student_id          TEXT NOT NULL REFERENCES people(id) ON DELETE CASCADE,
	notification_email  TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (guardian_id, student_id)
);
CREATE INDEX IF NOT EXISTS idx_guardian_links_student ON guardian_links(student_id);

CREATE TABLE IF NOT EXISTS attendance_records (
	id              TEXT PRIMARY KEY,
	person_id       TEXT NOT NULL REFERENCES people(id),
	person_name     TEXT NOT NULL,
	person_role     TEXT NOT NULL,
	day             DATE NOT NULL,
	check_in        TIMESTAMPTZ NOT NULL,
	check_out       TIMESTAMPTZ,
	status          TEXT NOT NULL CHECK (status IN ('present', 'late', 'absent')),
	recorded_by     TEXT NOT NULL DEFAULT '',
	checked_out_by  TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT attendance_person_day_key UNIQUE (person_id, day),
	CONSTRAINT attendance_checkout_after_checkin CHECK (check_out IS NULL OR check_out >= check_in)
);
CREATE INDEX IF NOT EXISTS idx_attendance_day ON attendance_records(day);
`

// IsUniqueViolation reports whether err is a Postgres unique violation on the
// named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
