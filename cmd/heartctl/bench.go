package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type benchOptions struct {
	URL         string
	Users       int
	Searches    int
	Concurrency int
	Password    string
	Timeout     time.Duration
}

var benchOpts benchOptions

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load test GET /matches with seeded users",
	Long: `Logs in the first --users accounts created by "heartctl seed" and has each
run --searches match searches against a running API server, then prints a
latency summary.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if benchOpts.Users < 1 || benchOpts.Searches < 1 || benchOpts.Concurrency < 1 {
			return fmt.Errorf("--users, --searches and --concurrency must be at least 1")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		b := &bencher{
			baseURL: strings.TrimRight(benchOpts.URL, "/"),
			client:  &http.Client{Timeout: benchOpts.Timeout},
			stats:   newCollector(),
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Match bench: %d users x %d searches against %s (concurrency=%d)\n",
			benchOpts.Users, benchOpts.Searches, b.baseURL, benchOpts.Concurrency)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(benchOpts.Concurrency)
		for i := 0; i < benchOpts.Users; i++ {
			login := fmt.Sprintf("user%d@heartline.test", i+1)
			g.Go(func() error {
				b.run(gctx, login, benchOpts.Password, benchOpts.Searches)
				return nil
			})
		}
		_ = g.Wait()

		b.stats.report(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	benchCmd.Flags().StringVar(&benchOpts.URL, "url", "http://localhost:8080", "API server base URL")
	benchCmd.Flags().IntVar(&benchOpts.Users, "users", 50, "number of seeded users to log in")
	benchCmd.Flags().IntVar(&benchOpts.Searches, "searches", 20, "match searches per user")
	benchCmd.Flags().IntVar(&benchOpts.Concurrency, "concurrency", 20, "users running at the same time")
	benchCmd.Flags().StringVar(&benchOpts.Password, "password", "heartline123", "password the seeder assigned")
	benchCmd.Flags().DurationVar(&benchOpts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	rootCmd.AddCommand(benchCmd)
}

type bencher struct {
	baseURL string
	client  *http.Client
	stats   *collector
}

// run logs in and performs n searches. Failures are counted, not returned,
// so one bad account does not stop the bench.
func (b *bencher) run(ctx context.Context, login, password string, n int) {
	start := time.Now()
	token, err := b.login(ctx, login, password)
	if err != nil {
		b.stats.addError()
		return
	}
	b.stats.addLogin(time.Since(start))

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		status, matches, err := b.search(ctx, token)
		if err != nil {
			b.stats.addError()
			continue
		}
		b.stats.addSearch(time.Since(start), status, matches)
		if status == http.StatusTooManyRequests {
			// The per-user limiter has kicked in; the rest would be 429s too.
			return
		}
	}
}

func (b *bencher) login(ctx context.Context, login, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"login": login, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login %s: status %d", login, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (b *bencher) search(ctx context.Context, token string) (int, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/matches", nil)
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Count int `json:"count"`
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return resp.StatusCode, 0, err
		}
	}
	return resp.StatusCode, out.Count, nil
}
