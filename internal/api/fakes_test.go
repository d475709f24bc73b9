package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/chat"
	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/profile"
	"github.com/heartline/server/internal/ratelimit"
	"github.com/heartline/server/internal/report"
)

type memUsers struct {
	mu       sync.Mutex
	users    map[string]*profile.User
	profiles map[string]*profile.Profile
	prefs    map[string]matching.RawPreferences
	blocks   map[[2]string]bool
}

func newMemUsers() *memUsers {
	return &memUsers{
		users:    make(map[string]*profile.User),
		profiles: make(map[string]*profile.Profile),
		prefs:    make(map[string]matching.RawPreferences),
		blocks:   make(map[[2]string]bool),
	}
}

func (m *memUsers) CreateUser(_ context.Context, email, phone, hash string) (*profile.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if (email != "" && u.Email == email) || (phone != "" && u.Phone == phone) {
			return nil, profile.ErrDuplicate
		}
	}
	u := &profile.User{ID: fmt.Sprintf("u%d", len(m.users)+1), Email: email, Phone: phone, PasswordHash: hash, CreatedAt: time.Now()}
	m.users[u.ID] = u
	return u, nil
}

func (m *memUsers) UserByLogin(_ context.Context, login string) (*profile.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == login || u.Phone == login {
			return u, nil
		}
	}
	return nil, profile.ErrNotFound
}

func (m *memUsers) UserByID(_ context.Context, id string) (*profile.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, profile.ErrNotFound
}

func (m *memUsers) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return profile.ErrNotFound
	}
	now := time.Now()
	u.DeactivatedAt = &now
	return nil
}

func (m *memUsers) UpsertProfile(_ context.Context, p *profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if old, ok := m.profiles[p.UserID]; ok {
		cp.Gallery = old.Gallery
	} else {
		cp.Gallery = []string{}
	}
	cp.UpdatedAt = time.Now()
	m.profiles[p.UserID] = &cp
	return nil
}

func (m *memUsers) ProfileByUserID(_ context.Context, userID string) (*profile.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memUsers) SetGallery(_ context.Context, userID string, images []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return profile.ErrNotFound
	}
	p.Gallery = append([]string{}, images...)
	return nil
}

func (m *memUsers) SavePreferences(_ context.Context, userID string, raw matching.RawPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[userID] = raw
	return nil
}

func (m *memUsers) PreferencesFor(_ context.Context, userID string) (matching.RawPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.prefs[userID]
	if !ok {
		return matching.RawPreferences{}, profile.ErrNotFound
	}
	return raw, nil
}

func (m *memUsers) Block(_ context.Context, userID, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[[2]string{userID, target}] = true
	return nil
}

// tokenSessions signs real tokens and keeps revocations in memory.
type tokenSessions struct {
	issuer  *auth.Issuer
	mu      sync.Mutex
	revoked map[string]bool
}

func newTokenSessions() *tokenSessions {
	return &tokenSessions{issuer: auth.NewIssuer("api-test-secret-0123456789", time.Hour), revoked: make(map[string]bool)}
}

func (s *tokenSessions) Login(_ context.Context, userID string) (string, *auth.Claims, error) {
	return s.issuer.Issue(userID)
}

func (s *tokenSessions) Validate(_ context.Context, token string) (*auth.Claims, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revoked[claims.SessionID] {
		return nil, auth.ErrSessionRevoked
	}
	return claims, nil
}

func (s *tokenSessions) Logout(_ context.Context, claims *auth.Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[claims.SessionID] = true
	return nil
}

// poolFinder runs the real filter over a fixed pool.
type poolFinder struct {
	pool []matching.Candidate
	err  error
}

func (f *poolFinder) Find(_ context.Context, seekerID string, prefs matching.Preferences) ([]matching.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return matching.NewFinder(f.pool).FindMatches(matching.Candidate{ID: seekerID}, prefs), nil
}

type memChats struct {
	mu        sync.Mutex
	sent      []chat.Message
	snapshot  []chat.Message
	sendErr   error
	reads     int64
	forgotten []string
}

func (c *memChats) Send(_ context.Context, sender, receiver, text string) (*chat.Message, error) {
	if sender == receiver {
		return nil, chat.ErrSelfMessage
	}
	if err := chat.ValidateMessage(text); err != nil {
		return nil, err
	}
	if c.sendErr != nil {
		return nil, c.sendErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m := chat.Message{
		ID:             fmt.Sprintf("m%d", len(c.sent)+1),
		ChatID:         chat.ChatIDFor(sender, receiver),
		SenderID:       sender,
		ReceiverID:     receiver,
		SenderStatus:   chat.StatusRead,
		ReceiverStatus: chat.StatusUnread,
		Body:           text,
		CreatedAt:      time.Now(),
	}
	c.sent = append(c.sent, m)
	return &m, nil
}

func (c *memChats) MarkRead(context.Context, string, string) (int64, error) {
	return c.reads, nil
}

func (c *memChats) History(_ context.Context, userID, peerID string, _ time.Time, limit int) ([]chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chatID := chat.ChatIDFor(userID, peerID)
	var out []chat.Message
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].ChatID == chatID {
			out = append(out, c.sent[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *memChats) UnreadCount(_ context.Context, userID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, m := range c.sent {
		if m.ReceiverID == userID && m.ReceiverStatus == chat.StatusUnread {
			n++
		}
	}
	return n, nil
}

func (c *memChats) Conversations(context.Context, string) ([]chat.Conversation, error) {
	return nil, nil
}

func (c *memChats) Snapshot(context.Context, string, string, int) ([]chat.Message, error) {
	return c.snapshot, nil
}

func (c *memChats) Forget(_ context.Context, a, b string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forgotten = append(c.forgotten, chat.ChatIDFor(a, b))
	return nil
}

type memReports struct {
	mu      sync.Mutex
	created []report.Report
}

func (m *memReports) Create(_ context.Context, r *report.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.created) + 1)
	r.CreatedAt = time.Now()
	m.created = append(m.created, *r)
	return nil
}

type memSuspensions struct {
	mu        sync.Mutex
	suspended map[string]time.Duration
	reports   map[string]int
	lookupErr error
}

func newMemSuspensions() *memSuspensions {
	return &memSuspensions{suspended: make(map[string]time.Duration), reports: make(map[string]int)}
}

func (m *memSuspensions) IsSuspended(_ context.Context, userID string) (bool, time.Duration, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return false, 0, "", m.lookupErr
	}
	d, ok := m.suspended[userID]
	return ok, d, "spam_pattern", nil
}

func (m *memSuspensions) ReportAndCheck(_ context.Context, userID string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[userID]++
	if m.reports[userID] < 3 {
		return false, 0, nil
	}
	m.suspended[userID] = 15 * time.Minute
	return true, 15 * time.Minute, nil
}

// countLimiter allows limit calls per identifier and rule.
type countLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func (l *countLimiter) Allow(_ context.Context, id string, rule ratelimit.Rule) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[rule.Key+id]++
	return l.counts[rule.Key+id] <= l.limit, nil
}

func (l *countLimiter) RetryAfter(_ context.Context, _ string, rule ratelimit.Rule) time.Duration {
	return rule.Window
}

func (l *countLimiter) Reset(_ context.Context, id string, rule ratelimit.Rule) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, rule.Key+id)
	return nil
}

type recordingStream struct {
	mu           sync.Mutex
	disconnected []string
}

func (s *recordingStream) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (s *recordingStream) DisconnectUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, userID)
}
