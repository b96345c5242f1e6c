package store

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "people_badge_id_key"})
	assert.True(t, IsUniqueViolation(err, "people_badge_id_key"))
	assert.False(t, IsUniqueViolation(err, "other_key"))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503", ConstraintName: "people_badge_id_key"}, "people_badge_id_key"))
	assert.False(t, IsUniqueViolation(fmt.Errorf("boom"), "people_badge_id_key"))
}

func TestMigrate(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := NewDB(dsn)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Migrate(context.Background()), "migration is idempotent")
	assert.True(t, db.Healthy(context.Background()))
}
