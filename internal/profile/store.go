package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/heartline/server/internal/matching"
)

const uniqueViolation = "23505"

// Store manages users and profiles in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new profile store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateUser registers a user. At least one of email and phone must be set.
func (s *Store) CreateUser(ctx context.Context, email, phone, passwordHash string) (*User, error) {
	u := &User{ID: uuid.NewString(), Email: email, Phone: phone, PasswordHash: passwordHash}

	const query = `
		INSERT INTO users (id, email, phone, password_hash)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4)
		RETURNING created_at`

	err := s.db.QueryRowContext(ctx, query, u.ID, email, phone, passwordHash).Scan(&u.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("profile: create user: %w", err)
	}
	return u, nil
}

// UserByLogin finds an active user by email or phone number.
func (s *Store) UserByLogin(ctx context.Context, login string) (*User, error) {
	const query = `
		SELECT id, COALESCE(email, ''), COALESCE(phone, ''), password_hash, created_at, deactivated_at
		FROM users
		WHERE (email = $1 OR phone = $1) AND deactivated_at IS NULL`
	return s.scanUser(s.db.QueryRowContext(ctx, query, login))
}

// UserByID finds a user, active or not.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	const query = `
		SELECT id, COALESCE(email, ''), COALESCE(phone, ''), password_hash, created_at, deactivated_at
		FROM users
		WHERE id = $1`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var (
		u           User
		deactivated sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.PasswordHash, &u.CreatedAt, &deactivated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load user: %w", err)
	}
	if deactivated.Valid {
		u.DeactivatedAt = &deactivated.Time
	}
	return &u, nil
}

// Deactivate hides a user from logins and candidate pools.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET deactivated_at = NOW() WHERE id = $1 AND deactivated_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("profile: deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertProfile creates or replaces a user's profile. The gallery is managed
// separately by SetGallery and is left untouched.
func (s *Store) UpsertProfile(ctx context.Context, p *Profile) error {
	const query = `
		INSERT INTO profiles (user_id, first_name, age, height, build, occupation, state, gender, about)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			age        = EXCLUDED.age,
			height     = EXCLUDED.height,
			build      = EXCLUDED.build,
			occupation = EXCLUDED.occupation,
			state      = EXCLUDED.state,
			gender     = EXCLUDED.gender,
			about      = EXCLUDED.about,
			updated_at = NOW()
		RETURNING updated_at`

	err := s.db.QueryRowContext(ctx, query,
		p.UserID, p.FirstName, nullInt(p.Age), nullInt(p.Height),
		p.Build, p.Occupation, p.State, p.Gender, p.About,
	).Scan(&p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("profile: upsert: %w", err)
	}
	return nil
}

// ProfileByUserID loads a profile.
func (s *Store) ProfileByUserID(ctx context.Context, userID string) (*Profile, error) {
	const query = `
		SELECT user_id, first_name, age, height, build, occupation, state, gender, about, gallery, updated_at
		FROM profiles
		WHERE user_id = $1`

	var (
		p           Profile
		age, height sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.FirstName, &age, &height, &p.Build, &p.Occupation,
		&p.State, &p.Gender, &p.About, pq.Array(&p.Gallery), &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load: %w", err)
	}
	p.Age = intPtr(age)
	p.Height = intPtr(height)
	if p.Gallery == nil {
		p.Gallery = []string{}
	}
	return &p, nil
}

// SetGallery replaces the profile's image list.
func (s *Store) SetGallery(ctx context.Context, userID string, images []string) error {
	if err := ValidateGallery(images); err != nil {
		return err
	}
	if images == nil {
		images = []string{}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET gallery = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, pq.Array(images))
	if err != nil {
		return fmt.Errorf("profile: set gallery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePreferences stores the user's match preferences in their wire form.
func (s *Store) SavePreferences(ctx context.Context, userID string, raw matching.RawPreferences) error {
	const query = `
		INSERT INTO preferences (user_id, p_min_age, p_max_age, p_min_height, p_max_height, p_gender, p_about)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			p_min_age    = EXCLUDED.p_min_age,
			p_max_age    = EXCLUDED.p_max_age,
			p_min_height = EXCLUDED.p_min_height,
			p_max_height = EXCLUDED.p_max_height,
			p_gender     = EXCLUDED.p_gender,
			p_about      = EXCLUDED.p_about,
			updated_at   = NOW()`

	_, err := s.db.ExecContext(ctx, query, userID,
		nullText(raw.MinAge), nullText(raw.MaxAge), nullText(raw.MinHeight), nullText(raw.MaxHeight),
		raw.Gender, raw.About)
	if err != nil {
		return fmt.Errorf("profile: save preferences: %w", err)
	}
	return nil
}

// PreferencesFor loads the user's stored match preferences.
func (s *Store) PreferencesFor(ctx context.Context, userID string) (matching.RawPreferences, error) {
	const query = `
		SELECT p_min_age, p_max_age, p_min_height, p_max_height, p_gender, p_about
		FROM preferences
		WHERE user_id = $1`

	var (
		raw                        matching.RawPreferences
		minAge, maxAge, minH, maxH sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&minAge, &maxAge, &minH, &maxH, &raw.Gender, &raw.About)
	if errors.Is(err, sql.ErrNoRows) {
		return matching.RawPreferences{}, ErrNotFound
	}
	if err != nil {
		return matching.RawPreferences{}, fmt.Errorf("profile: load preferences: %w", err)
	}
	raw.MinAge = textPtr(minAge)
	raw.MaxAge = textPtr(maxAge)
	raw.MinHeight = textPtr(minH)
	raw.MaxHeight = textPtr(maxH)
	return raw, nil
}

// Block records that userID no longer wants to see or hear from target.
func (s *Store) Block(ctx context.Context, userID, target string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (user_id, blocked_user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, target)
	if err != nil {
		return fmt.Errorf("profile: block: %w", err)
	}
	return nil
}

// IsBlocked reports whether either user has blocked the other.
func (s *Store) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM blocks
			WHERE (user_id = $1 AND blocked_user_id = $2)
			   OR (user_id = $2 AND blocked_user_id = $1)
		)`
	var blocked bool
	if err := s.db.QueryRowContext(ctx, query, a, b).Scan(&blocked); err != nil {
		return false, fmt.Errorf("profile: is blocked: %w", err)
	}
	return blocked, nil
}

// CandidatesFor returns every active user with a profile who is not in a
// block relation with seekerID, oldest account first.
func (s *Store) CandidatesFor(ctx context.Context, seekerID string) ([]matching.Candidate, error) {
	const query = `
		SELECT u.id, COALESCE(p.age::text, ''), p.height::text, p.gender, p.about
		FROM users u
		JOIN profiles p ON p.user_id = u.id
		WHERE u.deactivated_at IS NULL
		  AND NOT EXISTS (
			SELECT 1 FROM blocks b
			WHERE (b.user_id = $1 AND b.blocked_user_id = u.id)
			   OR (b.user_id = u.id AND b.blocked_user_id = $1)
		  )
		ORDER BY u.created_at, u.id`

	rows, err := s.db.QueryContext(ctx, query, seekerID)
	if err != nil {
		return nil, fmt.Errorf("profile: candidates: %w", err)
	}
	defer rows.Close()

	var pool []matching.Candidate
	for rows.Next() {
		var (
			c      matching.Candidate
			age    string
			height sql.NullString
		)
		if err := rows.Scan(&c.ID, &age, &height, &c.Gender, &c.About); err != nil {
			return nil, fmt.Errorf("profile: scan candidate: %w", err)
		}
		c.Age = matching.Text(age)
		c.Height = textPtr(height)
		pool = append(pool, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: candidates: %w", err)
	}
	return pool, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullText(t *matching.Text) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*t), Valid: true}
}

func textPtr(s sql.NullString) *matching.Text {
	if !s.Valid {
		return nil
	}
	t := matching.Text(s.String)
	return &t
}
