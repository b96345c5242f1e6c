package attendance

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// PostgresRepository persists attendance records in Postgres. The
// (person_id, day) unique constraint and the check_out IS NULL guard make both
// writes conditional, so concurrent API instances cannot double-fire an edge.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a repo.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, person_id, person_name, person_role, day, check_in, check_out, status, recorded_by, checked_out_by, created_at`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var rec Record
	var day time.Time
	var checkOut sql.NullTime
	var status string
	if err := row.Scan(&rec.ID, &rec.PersonID, &rec.PersonName, &rec.PersonRole, &day,
		&rec.CheckIn, &checkOut, &status, &rec.RecordedBy, &rec.CheckedOutBy, &rec.CreatedAt); err != nil {
		return Record{}, err
	}
	rec.Day = day.Format(DayLayout)
	rec.Status = Status(status)
	if checkOut.Valid {
		t := checkOut.Time
		rec.CheckOut = &t
	}
	return rec, nil
}

// Get returns the record for (person, day).
func (r *PostgresRepository) Get(ctx context.Context, personID, day string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE person_id = $1 AND day = $2
	`, personID, day))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, errors.Wrap(err, "get attendance")
}

// Insert writes a check-in unless one already exists for the same day.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	out, err := scanRecord(r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (id, person_id, person_name, person_role, day, check_in, status, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (person_id, day) DO NOTHING
		RETURNING `+recordColumns,
		rec.ID, rec.PersonID, rec.PersonName, rec.PersonRole, rec.Day, rec.CheckIn, string(rec.Status), rec.RecordedBy))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRaceLost
	}
	return out, errors.Wrap(err, "insert attendance")
}

// CloseOut sets the check-out of an open record.
func (r *PostgresRepository) CloseOut(ctx context.Context, id string, at time.Time, by string) (Record, error) {
	out, err := scanRecord(r.db.QueryRowContext(ctx, `
		UPDATE attendance_records
		SET check_out = $2, checked_out_by = $3
		WHERE id = $1 AND check_out IS NULL
		RETURNING `+recordColumns,
		id, at, by))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrRaceLost
	}
	return out, errors.Wrap(err, "close attendance")
}

// List returns records with basic filters, newest check-in first.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records`
	var args []any
	var clauses []string
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, clause+" $"+strconv.Itoa(len(args)))
	}
	if f.PersonID != "" {
		add("person_id =", f.PersonID)
	}
	if f.Day != "" {
		add("day =", f.Day)
	}
	if f.From != "" {
		add("day >=", f.From)
	}
	if f.To != "" {
		add("day <=", f.To)
	}
	if f.Role != "" {
		add("person_role =", f.Role)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY check_in DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list attendance")
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
