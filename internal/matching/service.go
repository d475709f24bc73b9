package matching

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/messaging"
	"github.com/heartline/server/internal/metrics"
)

const defaultRequestTimeout = 5 * time.Second

// FindRequest is the NATS payload sent to match.find.
type FindRequest struct {
	SeekerID    string         `json:"seeker_id"`
	Preferences RawPreferences `json:"preferences"`
}

// FindResponse is the reply to a FindRequest. Code is "validation" when the
// preferences were rejected, in which case Field names the offending field.
type FindResponse struct {
	Matches []Candidate `json:"matches"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Field   string      `json:"field,omitempty"`
	Value   string      `json:"value,omitempty"`
}

// CandidateSource supplies the pool of users a seeker may be matched with.
// Deactivated users and users in a block relation with the seeker are
// expected to be left out already.
type CandidateSource interface {
	CandidatesFor(ctx context.Context, seekerID string) ([]Candidate, error)
}

// Excluder reports which of ids are currently barred from matching.
type Excluder interface {
	Suspended(ctx context.Context, ids []string) (map[string]bool, error)
}

// Service loads candidate pools and runs the Finder over them. It can serve
// in-process callers through Find and remote ones over NATS once started.
type Service struct {
	source   CandidateSource
	excluder Excluder
	nats     *messaging.NATSClient
	logger   *zap.Logger
	workers  int
	timeout  time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithExcluder drops candidates the excluder reports before filtering.
func WithExcluder(e Excluder) Option {
	return func(s *Service) { s.excluder = e }
}

// WithNATS enables Start to serve match.find requests.
func WithNATS(nc *messaging.NATSClient) Option {
	return func(s *Service) { s.nats = nc }
}

// WithWorkers sets how many goroutines evaluate a pool.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

// WithRequestTimeout bounds the time spent on one NATS request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a match service over source.
func NewService(source CandidateSource, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		source:  source,
		logger:  logger.With(zap.String("component", "matcher")),
		workers: 1,
		timeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find returns the candidates from seekerID's pool that satisfy prefs. An
// empty slice means nobody matched and is not an error.
func (s *Service) Find(ctx context.Context, seekerID string, prefs Preferences) ([]Candidate, error) {
	start := time.Now()

	pool, err := s.source.CandidatesFor(ctx, seekerID)
	if err != nil {
		metrics.MatchSearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("matching: load candidates: %w", err)
	}
	pool = s.dropSuspended(ctx, pool)
	metrics.MatchPoolSize.Observe(float64(len(pool)))

	finder := NewFinder(pool, WithObserver(observeRejection))
	matches, err := finder.FindMatchesConcurrent(ctx, Candidate{ID: seekerID}, prefs, s.workers)
	if err != nil {
		metrics.MatchSearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("matching: find: %w", err)
	}

	outcome := "matched"
	if len(matches) == 0 {
		outcome = "empty"
	}
	metrics.MatchSearchesTotal.WithLabelValues(outcome).Inc()
	metrics.MatchResultSize.Observe(float64(len(matches)))
	metrics.MatchDuration.Observe(time.Since(start).Seconds())

	s.logger.Debug("match search",
		zap.String("seeker", seekerID),
		zap.Int("pool", len(pool)),
		zap.Int("matches", len(matches)),
		zap.Duration("took", time.Since(start)),
	)
	return matches, nil
}

// dropSuspended removes suspended candidates. Lookup failures fail open.
func (s *Service) dropSuspended(ctx context.Context, pool []Candidate) []Candidate {
	if s.excluder == nil || len(pool) == 0 {
		return pool
	}
	ids := make([]string, len(pool))
	for i, c := range pool {
		ids[i] = c.ID
	}
	suspended, err := s.excluder.Suspended(ctx, ids)
	if err != nil {
		s.logger.Warn("suspension lookup failed, keeping full pool", zap.Error(err))
		return pool
	}
	if len(suspended) == 0 {
		return pool
	}
	kept := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if !suspended[c.ID] {
			kept = append(kept, c)
		}
	}
	return kept
}

func observeRejection(_ Candidate, v Verdict) {
	metrics.MatchRejectionsTotal.WithLabelValues(string(v.Reason)).Inc()
}

// Start subscribes to match.find. It requires WithNATS.
func (s *Service) Start() error {
	if s.nats == nil {
		return errors.New("matching: service started without a NATS client")
	}
	if err := s.nats.SubscribeMatchFind(s.handleFindRequest); err != nil {
		return err
	}
	s.logger.Info("service started", zap.Int("workers", s.workers))
	return nil
}

func (s *Service) handleFindRequest(data []byte) []byte {
	resp := s.serveFind(data)
	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal find response", zap.Error(err))
		out, _ = json.Marshal(FindResponse{Error: "internal error"})
	}
	return out
}

func (s *Service) serveFind(data []byte) FindResponse {
	var req FindRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("invalid find request", zap.Error(err))
		return FindResponse{Error: "invalid request", Code: "bad_request"}
	}
	if req.SeekerID == "" {
		return FindResponse{Error: "missing seeker_id", Code: "bad_request"}
	}

	prefs, err := ParsePreferences(req.Preferences)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return FindResponse{Error: verr.Reason, Code: "validation", Field: verr.Field, Value: verr.Value}
		}
		return FindResponse{Error: err.Error(), Code: "bad_request"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	matches, err := s.Find(ctx, req.SeekerID, prefs)
	if err != nil {
		s.logger.Error("find matches", zap.String("seeker", req.SeekerID), zap.Error(err))
		return FindResponse{Error: "match search failed"}
	}
	return FindResponse{Matches: matches}
}
