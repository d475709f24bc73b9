package profile

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heartline/server/internal/database"
	"github.com/heartline/server/internal/matching"
)

// Requires PostgreSQL at HEARTLINE_TEST_DATABASE_URL. Tests are skipped if unset.
func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	url := os.Getenv("HEARTLINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("skipping: HEARTLINE_TEST_DATABASE_URL not set")
	}
	db, err := database.Open(context.Background(), url, 4)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return NewStore(db), db
}

func newUser(t *testing.T, s *Store) *User {
	t.Helper()
	u, err := s.CreateUser(context.Background(), uuid.NewString()+"@test.local", "", "hash")
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec(`DELETE FROM users WHERE id = $1`, u.ID)
	})
	return u
}

func TestStore_CreateUserDuplicate(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	u := newUser(t, s)
	_, err := s.CreateUser(ctx, u.Email, "", "hash")
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.UserByLogin(ctx, u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}

func TestStore_ProfileRoundTrip(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	p := validProfile()
	p.UserID = u.ID
	require.NoError(t, s.UpsertProfile(ctx, &p))
	require.NoError(t, s.SetGallery(ctx, u.ID, []string{"https://cdn.example.com/1.jpg"}))

	got, err := s.ProfileByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 29, *got.Age)
	assert.Equal(t, []string{"https://cdn.example.com/1.jpg"}, got.Gallery)

	_, err = s.ProfileByUserID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PreferencesKeepAbsentBounds(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	u := newUser(t, s)

	minAge := matching.Text("25")
	raw := matching.RawPreferences{MinAge: &minAge, Gender: "male", About: "jazz"}
	require.NoError(t, s.SavePreferences(ctx, u.ID, raw))

	got, err := s.PreferencesFor(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MinAge)
	assert.Equal(t, matching.Text("25"), *got.MinAge)
	assert.Nil(t, got.MaxAge)
	assert.Nil(t, got.MinHeight)
	assert.Equal(t, "male", got.Gender)
}

func TestStore_CandidatesSkipBlockedAndDeactivated(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	seeker := newUser(t, s)
	visible := newUser(t, s)
	blocker := newUser(t, s)
	gone := newUser(t, s)
	for _, u := range []*User{seeker, visible, blocker, gone} {
		p := validProfile()
		p.UserID = u.ID
		require.NoError(t, s.UpsertProfile(ctx, &p))
	}
	require.NoError(t, s.Block(ctx, blocker.ID, seeker.ID))
	require.NoError(t, s.Deactivate(ctx, gone.ID))

	blocked, err := s.IsBlocked(ctx, seeker.ID, blocker.ID)
	require.NoError(t, err)
	assert.True(t, blocked)

	pool, err := s.CandidatesFor(ctx, seeker.ID)
	require.NoError(t, err)

	ids := make(map[string]matching.Candidate, len(pool))
	for _, c := range pool {
		ids[c.ID] = c
	}
	assert.Contains(t, ids, visible.ID)
	assert.Contains(t, ids, seeker.ID, "self is removed by the finder, not the store")
	assert.NotContains(t, ids, blocker.ID)
	assert.NotContains(t, ids, gone.ID)

	c := ids[visible.ID]
	assert.Equal(t, matching.Text("29"), c.Age)
	require.NotNil(t, c.Height)
	assert.Equal(t, matching.Text("170"), *c.Height)
}
