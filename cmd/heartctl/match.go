package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/profile"
	"github.com/heartline/server/internal/suspension"
)

// reasonSuspended marks candidates the API drops before filtering.
const reasonSuspended matching.Reason = "suspended"

var (
	matchUser    string
	matchExplain bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run a match search for a user against the database",
	Long: `Runs the same filters as GET /matches for --user, using the stored
preferences. Suspended members are left out, as the API does. With --explain
every candidate is listed with the filter that rejected it.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if matchUser == "" {
			return fmt.Errorf("--user is required")
		}
		e, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		defer e.close()

		store := profile.NewStore(e.db)
		raw, err := store.PreferencesFor(cmd.Context(), matchUser)
		if err != nil && !errors.Is(err, profile.ErrNotFound) {
			return err
		}
		prefs, err := matching.ParsePreferences(raw)
		if err != nil {
			return err
		}
		pool, err := store.CandidatesFor(cmd.Context(), matchUser)
		if err != nil {
			return err
		}
		e.logger.Debug("match search", zap.String("user_id", matchUser), zap.Int("pool", len(pool)))

		suspended := lookupSuspended(cmd.Context(), e, pool)
		return printMatches(cmd.OutOrStdout(), matching.NewFinder(pool), matchUser, prefs, pool, suspended, matchExplain)
	},
}

func init() {
	matchCmd.Flags().StringVarP(&matchUser, "user", "u", "", "id of the seeking user")
	matchCmd.Flags().BoolVar(&matchExplain, "explain", false, "list rejected candidates and the reason")
	rootCmd.AddCommand(matchCmd)
}

// lookupSuspended asks Redis which candidates are suspended. Like the API it
// fails open: without Redis every candidate stays in the pool.
func lookupSuspended(ctx context.Context, e *env, pool []matching.Candidate) map[string]bool {
	rdb := redis.NewClient(&redis.Options{Addr: e.cfg.Redis.Addr, DB: e.cfg.Redis.DB})
	defer rdb.Close()

	ids := make([]string, len(pool))
	for i, c := range pool {
		ids[i] = c.ID
	}
	suspended, err := suspension.NewStore(rdb).Suspended(ctx, ids)
	if err != nil {
		e.logger.Warn("suspension lookup failed, keeping full pool", zap.Error(err))
		return nil
	}
	return suspended
}

func printMatches(w io.Writer, f *matching.Finder, seekerID string, prefs matching.Preferences, pool []matching.Candidate, suspended map[string]bool, explain bool) error {
	seeker := matching.Candidate{ID: seekerID}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGE\tHEIGHT\tGENDER\tRESULT\tSIMILARITY")

	matched := 0
	for _, c := range pool {
		v := f.Evaluate(seeker, prefs, c)
		if suspended[c.ID] {
			v = matching.Verdict{Reason: reasonSuspended}
		}
		if v.Accepted {
			matched++
		} else if !explain {
			continue
		}
		result := "match"
		if !v.Accepted {
			result = "rejected: " + string(v.Reason)
		}
		height := "-"
		if c.Height != nil {
			height = string(*c.Height)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.3f\n", c.ID, c.Age, height, c.Gender, result, v.Similarity)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d of %d candidates matched\n", matched, len(pool))
	return err
}
