package matching

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	pool []Candidate
	err  error
	seen string
}

func (f *fakeSource) CandidatesFor(_ context.Context, seekerID string) ([]Candidate, error) {
	f.seen = seekerID
	return f.pool, f.err
}

type fakeExcluder struct {
	suspended map[string]bool
	err       error
}

func (f *fakeExcluder) Suspended(context.Context, []string) (map[string]bool, error) {
	return f.suspended, f.err
}

// loopback answers requests with the service's own NATS handler.
type loopback struct {
	svc     *Service
	subject string
}

func (l *loopback) Request(_ context.Context, subject string, data []byte) ([]byte, error) {
	l.subject = subject
	return l.svc.handleFindRequest(data), nil
}

func testPool() []Candidate {
	return []Candidate{
		{ID: "alice", Age: "24", Gender: "female", About: "coffee and jazz"},
		{ID: "bob", Age: "31", Gender: "male"},
		{ID: "seeker", Age: "29"},
		{ID: "carol", Age: "27", Gender: "female", Height: height("168")},
	}
}

func TestService_Find(t *testing.T) {
	src := &fakeSource{pool: testPool()}
	svc := NewService(src, zap.NewNop())

	got, err := svc.Find(context.Background(), "seeker", Preferences{Gender: "female"})
	require.NoError(t, err)
	assert.Equal(t, "seeker", src.seen)
	assert.Equal(t, []string{"alice", "carol"}, ids(got))
}

func TestService_FindDropsSuspended(t *testing.T) {
	src := &fakeSource{pool: testPool()}
	svc := NewService(src, zap.NewNop(), WithExcluder(&fakeExcluder{suspended: map[string]bool{"alice": true}}))

	got, err := svc.Find(context.Background(), "seeker", Preferences{Gender: "female"})
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, ids(got))
}

func TestService_FindExcluderFailsOpen(t *testing.T) {
	src := &fakeSource{pool: testPool()}
	svc := NewService(src, zap.NewNop(), WithExcluder(&fakeExcluder{err: errors.New("redis down")}))

	got, err := svc.Find(context.Background(), "seeker", Preferences{Gender: "female"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, ids(got))
}

func TestService_FindSourceError(t *testing.T) {
	boom := errors.New("db down")
	svc := NewService(&fakeSource{err: boom}, zap.NewNop())

	_, err := svc.Find(context.Background(), "seeker", Preferences{})
	assert.ErrorIs(t, err, boom)
}

func TestService_StartWithoutNATS(t *testing.T) {
	svc := NewService(&fakeSource{}, zap.NewNop())
	assert.Error(t, svc.Start())
}

func TestService_HandleFindRequest(t *testing.T) {
	svc := NewService(&fakeSource{pool: testPool()}, zap.NewNop(), WithWorkers(4))

	t.Run("matches", func(t *testing.T) {
		req, _ := json.Marshal(FindRequest{
			SeekerID:    "seeker",
			Preferences: RawPreferences{MinAge: text("25"), MaxAge: text("35")},
		})
		var resp FindResponse
		require.NoError(t, json.Unmarshal(svc.handleFindRequest(req), &resp))
		assert.Empty(t, resp.Error)
		assert.Equal(t, []string{"bob", "carol"}, ids(resp.Matches))
	})

	t.Run("empty result", func(t *testing.T) {
		req, _ := json.Marshal(FindRequest{
			SeekerID:    "seeker",
			Preferences: RawPreferences{MinAge: text("60")},
		})
		var resp FindResponse
		require.NoError(t, json.Unmarshal(svc.handleFindRequest(req), &resp))
		assert.Empty(t, resp.Error)
		assert.NotNil(t, resp.Matches)
		assert.Empty(t, resp.Matches)
	})

	t.Run("validation", func(t *testing.T) {
		req := []byte(`{"seeker_id":"seeker","preferences":{"pMinAge":"old"}}`)
		var resp FindResponse
		require.NoError(t, json.Unmarshal(svc.handleFindRequest(req), &resp))
		assert.Equal(t, "validation", resp.Code)
		assert.Equal(t, "pMinAge", resp.Field)
	})

	t.Run("garbage", func(t *testing.T) {
		var resp FindResponse
		require.NoError(t, json.Unmarshal(svc.handleFindRequest([]byte("{")), &resp))
		assert.Equal(t, "bad_request", resp.Code)
	})
}

func TestRemoteClient_RoundTrip(t *testing.T) {
	svc := NewService(&fakeSource{pool: testPool()}, zap.NewNop())
	lb := &loopback{svc: svc}
	client := NewRemoteClient(lb, "match.find", time.Second)

	got, err := client.Find(context.Background(), "seeker", Preferences{About: "jazz"})
	require.NoError(t, err)
	assert.Equal(t, "match.find", lb.subject)
	assert.Equal(t, []string{"alice"}, ids(got))
	assert.Equal(t, Text("24"), got[0].Age)
}

func TestRemoteClient_ValidationError(t *testing.T) {
	svc := NewService(&fakeSource{pool: testPool()}, zap.NewNop())
	client := NewRemoteClient(&loopback{svc: svc}, "match.find", time.Second)

	_, err := client.Find(context.Background(), "seeker", Preferences{MinAge: Bound(40), MaxAge: Bound(20)})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "pMaxAge", verr.Field)
}
