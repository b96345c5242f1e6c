package directory

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanattend/internal/store"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := store.NewDB(dsn)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	return NewPostgres(db.Client)
}

func TestPostgresDirectory(t *testing.T) {
	s := newTestPostgres(t)
	ctx := context.Background()
	badge := "QR-" + uuid.NewString()

	student, err := s.UpsertPerson(ctx, Person{Name: "Ana", Role: RoleStudent, BadgeID: badge})
	require.NoError(t, err)

	_, err = s.UpsertPerson(ctx, Person{Name: "Other", Role: RoleStudent, BadgeID: badge})
	assert.ErrorIs(t, err, ErrDuplicateBadge)

	got, err := s.PersonByBadge(ctx, badge)
	require.NoError(t, err)
	assert.Equal(t, student.ID, got.ID)
	_, err = s.PersonByBadge(ctx, "qr-"+badge[3:])
	assert.ErrorIs(t, err, ErrNotFound, "badge match is case-sensitive")

	mom, err := s.UpsertPerson(ctx, Person{Name: "Marta", Email: "marta@example.com", Role: RoleGuardian, BadgeID: "G-" + uuid.NewString()})
	require.NoError(t, err)

	link, err := s.LinkGuardian(ctx, mom.ID, student.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "marta@example.com", link.NotificationEmail)

	_, err = s.LinkGuardian(ctx, mom.ID, student.ID, "work@example.com")
	require.NoError(t, err)

	links, err := s.GuardiansOf(ctx, student.ID)
	require.NoError(t, err)
	require.Len(t, links, 1, "re-linking updates instead of duplicating")
	assert.Equal(t, "work@example.com", links[0].NotificationEmail)
	assert.Equal(t, "Marta", links[0].GuardianName)
}
