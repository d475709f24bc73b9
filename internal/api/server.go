// Package api exposes Heartline to the mobile app as JSON over HTTP. Routes
// are registered on a net/http ServeMux with method patterns; every
// dependency sits behind a small interface so handlers can be tested against
// in-memory fakes.
package api

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/chat"
	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/moderation"
	"github.com/heartline/server/internal/profile"
	"github.com/heartline/server/internal/ratelimit"
	"github.com/heartline/server/internal/report"
)

// Users is the account and profile storage. *profile.Store implements it.
type Users interface {
	CreateUser(ctx context.Context, email, phone, passwordHash string) (*profile.User, error)
	UserByLogin(ctx context.Context, login string) (*profile.User, error)
	UserByID(ctx context.Context, id string) (*profile.User, error)
	Deactivate(ctx context.Context, id string) error
	UpsertProfile(ctx context.Context, p *profile.Profile) error
	ProfileByUserID(ctx context.Context, userID string) (*profile.Profile, error)
	SetGallery(ctx context.Context, userID string, images []string) error
	SavePreferences(ctx context.Context, userID string, raw matching.RawPreferences) error
	PreferencesFor(ctx context.Context, userID string) (matching.RawPreferences, error)
	Block(ctx context.Context, userID, target string) error
}

// Sessions issues and checks access tokens. *auth.Authenticator implements it.
type Sessions interface {
	Login(ctx context.Context, userID string) (string, *auth.Claims, error)
	Validate(ctx context.Context, token string) (*auth.Claims, error)
	Logout(ctx context.Context, claims *auth.Claims) error
}

// MatchFinder runs a match search. Both *matching.Service (in-process) and
// *matching.RemoteClient (delegating to the matcher over NATS) implement it.
type MatchFinder interface {
	Find(ctx context.Context, seekerID string, prefs matching.Preferences) ([]matching.Candidate, error)
}

// Chats is the chat service. *chat.Service implements it.
type Chats interface {
	Send(ctx context.Context, senderID, receiverID, text string) (*chat.Message, error)
	MarkRead(ctx context.Context, readerID, peerID string) (int64, error)
	History(ctx context.Context, userID, peerID string, before time.Time, limit int) ([]chat.Message, error)
	Conversations(ctx context.Context, userID string) ([]chat.Conversation, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	Snapshot(ctx context.Context, a, b string, n int) ([]chat.Message, error)
	Forget(ctx context.Context, a, b string) error
}

// Reports persists abuse reports. *report.Store implements it.
type Reports interface {
	Create(ctx context.Context, r *report.Report) error
}

// Suspensions looks up and applies account suspensions.
// *suspension.Store implements it.
type Suspensions interface {
	IsSuspended(ctx context.Context, userID string) (bool, time.Duration, string, error)
	ReportAndCheck(ctx context.Context, userID string) (bool, time.Duration, error)
}

// Limiter throttles requests. *ratelimit.Limiter implements it.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	RetryAfter(ctx context.Context, identifier string, rule ratelimit.Rule) time.Duration
	Reset(ctx context.Context, identifier string, rule ratelimit.Rule) error
}

// ContentFilter screens profile text. *moderation.Filter implements it.
type ContentFilter interface {
	CheckKeywords(text string) moderation.FilterResult
}

// Stream is the realtime event stream. *ws.Hub implements it.
type Stream interface {
	http.Handler
	DisconnectUser(userID string)
}

// Pinger reports database health. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the collaborators of a Server. Limiter, Stream and DB are
// optional. TrustedProxies lists the load balancers whose X-Forwarded-For
// header is believed; with none, the peer address is the client.
type Deps struct {
	Users       Users
	Sessions    Sessions
	Matches     MatchFinder
	Chats       Chats
	Reports     Reports
	Suspensions Suspensions
	Limiter     Limiter
	Filter      ContentFilter
	Stream      Stream
	DB          Pinger
	Logger      *zap.Logger

	TrustedProxies []netip.Prefix
}

// Server routes API requests to handlers.
type Server struct {
	Deps
	logger *zap.Logger
	mux    *http.ServeMux
}

// NewServer builds a Server and registers its routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Deps:   deps,
		logger: logger.With(zap.String("component", "api")),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the root handler with panic recovery applied.
func (s *Server) Handler() http.Handler {
	return s.recoverer(s.mux)
}

func (s *Server) routes() {
	// Accounts
	s.handle("POST /auth/register", s.limitByAddr(ratelimit.RuleLogin, s.handleRegister))
	s.handle("POST /auth/login", s.limitByAddr(ratelimit.RuleLogin, s.handleLogin))
	s.handle("POST /auth/logout", s.authenticate(s.handleLogout))
	s.handle("DELETE /me", s.authenticate(s.handleDeactivate))

	// Profile
	s.handle("GET /me/profile", s.authenticate(s.handleGetProfile))
	s.handle("PUT /me/profile", s.authenticate(s.handlePutProfile))
	s.handle("PUT /me/gallery", s.authenticate(s.handlePutGallery))
	s.handle("GET /me/preferences", s.authenticate(s.handleGetPreferences))
	s.handle("PUT /me/preferences", s.authenticate(s.handlePutPreferences))

	// Matching
	s.handle("GET /matches", s.authenticate(s.notSuspended(s.limitByUser(ratelimit.RuleMatchSearch, s.handleMatches))))
	s.handle("POST /matches/search", s.authenticate(s.notSuspended(s.limitByUser(ratelimit.RuleMatchSearch, s.handleMatchSearch))))

	// Safety
	s.handle("POST /users/{id}/block", s.authenticate(s.handleBlock))
	s.handle("POST /users/{id}/report", s.authenticate(s.limitByUser(ratelimit.RuleReport, s.handleReport)))

	// Chat
	s.handle("GET /chats", s.authenticate(s.handleConversations))
	s.handle("GET /chats/unread", s.authenticate(s.handleUnread))
	s.handle("GET /chats/{peerID}/messages", s.authenticate(s.handleHistory))
	s.handle("POST /chats/{peerID}/messages", s.authenticate(s.notSuspended(s.limitByUser(ratelimit.RuleMessage, s.handleSend))))
	s.handle("POST /chats/{peerID}/read", s.authenticate(s.handleMarkRead))

	s.handle("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	// The stream authenticates its own upgrade and must not be wrapped by
	// the instrumented writer, which cannot be hijacked.
	if s.Stream != nil {
		s.mux.Handle("GET /ws", s.limitByAddr(ratelimit.RuleConnect, s.Stream.ServeHTTP))
	}
}

// handle registers h under pattern with latency instrumentation.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, s.instrument(pattern, h))
}
