package main

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/database"
	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/profile"
)

// seedNamespace keys the deterministic user ids, so re-running the seeder
// with the same --seed updates rows instead of duplicating them.
var seedNamespace = uuid.MustParse("6f1c2a8e-4b0d-4a57-9a35-2f7f8f0d8e11")

var (
	firstNames  = []string{"Ada", "Bola", "Chidi", "Dami", "Efe", "Funke", "Gbenga", "Halima", "Ife", "Jide", "Kemi", "Lola", "Musa", "Ngozi", "Ola", "Tobi", "Uche", "Yemi", "Zainab"}
	occupations = []string{"engineer", "nurse", "teacher", "designer", "accountant", "lawyer", "chef", "photographer", "banker", "student"}
	states      = []string{"lagos", "abuja", "oyo", "rivers", "kano", "enugu", "kaduna", "delta"}
	builds      = []string{"", "slim", "athletic", "chubby"}
	genders     = []string{"male", "female"}
	aboutWords  = []string{
		"love", "music", "travel", "hiking", "cooking", "movies", "books", "football",
		"church", "dancing", "coffee", "beach", "art", "gym", "gaming", "family",
		"quiet", "adventure", "fashion", "tech",
	}
)

type seedOptions struct {
	Count    int
	Seed     int64
	Password string
	Truncate bool
}

// seedUser is one generated account with its profile and preferences.
type seedUser struct {
	ID          string
	Email       string
	Profile     profile.Profile
	Preferences matching.RawPreferences
}

var seedOpts seedOptions

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the database with deterministic demo users",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if seedOpts.Count < 1 {
			return fmt.Errorf("--count must be at least 1")
		}
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		hash, err := auth.HashPassword(seedOpts.Password)
		if err != nil {
			return err
		}
		users := generateUsers(rand.New(rand.NewSource(seedOpts.Seed)), seedOpts.Count)

		err = database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
			if seedOpts.Truncate {
				if err := truncateAll(ctx, tx); err != nil {
					return fmt.Errorf("truncate: %w", err)
				}
				e.logger.Info("truncated users and dependent tables")
			}
			return insertSeedUsers(ctx, tx, users, hash)
		})
		if err != nil {
			return err
		}

		e.logger.Info("seed complete", zap.Int("users", len(users)), zap.Int64("seed", seedOpts.Seed))
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d users (login with %s / %s)\n", len(users), users[0].Email, seedOpts.Password)
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedOpts.Count, "count", 200, "number of users to create")
	seedCmd.Flags().Int64Var(&seedOpts.Seed, "seed", 42, "RNG seed (deterministic)")
	seedCmd.Flags().StringVar(&seedOpts.Password, "password", "heartline123", "password assigned to every user")
	seedCmd.Flags().BoolVar(&seedOpts.Truncate, "truncate", false, "delete every user before seeding")
	rootCmd.AddCommand(seedCmd)
}

// generateUsers builds n users from r. The same source always yields the same
// users, and every profile passes profile.ValidateProfile.
func generateUsers(r *rand.Rand, n int) []seedUser {
	out := make([]seedUser, 0, n)
	for i := 0; i < n; i++ {
		email := fmt.Sprintf("user%d@heartline.test", i+1)
		u := seedUser{
			ID:    uuid.NewSHA1(seedNamespace, []byte(email)).String(),
			Email: email,
		}

		age := 18 + r.Intn(38)
		height := 150 + r.Intn(46)
		u.Profile = profile.Profile{
			UserID:     u.ID,
			FirstName:  firstNames[r.Intn(len(firstNames))],
			Age:        &age,
			Height:     &height,
			Build:      builds[r.Intn(len(builds))],
			Occupation: occupations[r.Intn(len(occupations))],
			State:      states[r.Intn(len(states))],
			Gender:     genders[r.Intn(len(genders))],
			About:      aboutText(r, 4+r.Intn(5)),
		}

		minAge := age - 5 + r.Intn(3)
		if minAge < 18 {
			minAge = 18
		}
		prefs := matching.Preferences{
			MinAge: matching.Bound(float64(minAge)),
			MaxAge: matching.Bound(float64(age + 3 + r.Intn(8))),
			Gender: genders[r.Intn(len(genders))],
		}
		// Leave some users without height or about constraints.
		if r.Intn(2) == 0 {
			prefs.MinHeight = matching.Bound(float64(150 + r.Intn(20)))
		}
		if r.Intn(3) > 0 {
			prefs.About = aboutText(r, 3+r.Intn(3))
		}
		u.Preferences = prefs.Raw()

		out = append(out, u)
	}
	return out
}

func aboutText(r *rand.Rand, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = aboutWords[r.Intn(len(aboutWords))]
	}
	return strings.Join(words, " ")
}

func truncateAll(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `TRUNCATE TABLE abuse_reports, chat_messages, blocks, preferences, profiles, users RESTART IDENTITY CASCADE`)
	return err
}

func insertSeedUsers(ctx context.Context, tx *sql.Tx, users []seedUser, passwordHash string) error {
	userStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			deactivated_at = NULL`)
	if err != nil {
		return err
	}
	defer userStmt.Close()

	profileStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO profiles (user_id, first_name, age, height, build, occupation, state, gender, about, gallery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			age = EXCLUDED.age,
			height = EXCLUDED.height,
			build = EXCLUDED.build,
			occupation = EXCLUDED.occupation,
			state = EXCLUDED.state,
			gender = EXCLUDED.gender,
			about = EXCLUDED.about,
			updated_at = NOW()`)
	if err != nil {
		return err
	}
	defer profileStmt.Close()

	prefStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO preferences (user_id, p_min_age, p_max_age, p_min_height, p_max_height, p_gender, p_about)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			p_min_age = EXCLUDED.p_min_age,
			p_max_age = EXCLUDED.p_max_age,
			p_min_height = EXCLUDED.p_min_height,
			p_max_height = EXCLUDED.p_max_height,
			p_gender = EXCLUDED.p_gender,
			p_about = EXCLUDED.p_about,
			updated_at = NOW()`)
	if err != nil {
		return err
	}
	defer prefStmt.Close()

	for i, u := range users {
		if _, err := userStmt.ExecContext(ctx, u.ID, u.Email, passwordHash); err != nil {
			return fmt.Errorf("insert user %d (%s): %w", i, u.Email, err)
		}
		p := u.Profile
		if _, err := profileStmt.ExecContext(ctx, u.ID, p.FirstName, *p.Age, *p.Height, p.Build,
			p.Occupation, p.State, p.Gender, p.About, pq.Array([]string{})); err != nil {
			return fmt.Errorf("insert profile %d: %w", i, err)
		}
		raw := u.Preferences
		if _, err := prefStmt.ExecContext(ctx, u.ID, textArg(raw.MinAge), textArg(raw.MaxAge),
			textArg(raw.MinHeight), textArg(raw.MaxHeight), raw.Gender, raw.About); err != nil {
			return fmt.Errorf("insert preferences %d: %w", i, err)
		}
	}
	return nil
}

func textArg(t *matching.Text) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*t), Valid: true}
}
