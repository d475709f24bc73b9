package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeEscalator struct {
	calls []string
	err   error
}

func (f *fakeEscalator) Escalate(_ context.Context, userID, reason string) (time.Duration, error) {
	f.calls = append(f.calls, userID+":"+reason)
	if f.err != nil {
		return 0, f.err
	}
	return 15 * time.Minute, nil
}

type capturePublisher struct {
	userIDs  []string
	payloads [][]byte
}

func (c *capturePublisher) PublishModerationResult(userID string, data []byte) error {
	c.userIDs = append(c.userIDs, userID)
	c.payloads = append(c.payloads, data)
	return nil
}

func request(t *testing.T, text string) []byte {
	t.Helper()
	data, err := json.Marshal(ModerationRequest{MessageID: "m1", ChatID: "c1", SenderID: "alice", ReceiverID: "bob", Text: text})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestModerator_CleanMessage(t *testing.T) {
	esc := &fakeEscalator{}
	pub := &capturePublisher{}
	m := NewModerator(NewFilter(), esc, pub, zap.NewNop())

	if res := m.Handle(request(t, "see you at the cafe")); res != nil {
		t.Fatalf("expected nil result for clean text, got %+v", res)
	}
	if len(esc.calls) != 0 || len(pub.payloads) != 0 {
		t.Errorf("clean text must not escalate or publish: %v %d", esc.calls, len(pub.payloads))
	}
}

func TestModerator_FlaggedMessage(t *testing.T) {
	esc := &fakeEscalator{}
	pub := &capturePublisher{}
	m := NewModerator(NewFilter(), esc, pub, zap.NewNop())

	res := m.Handle(request(t, "just go kill yourself"))
	if res == nil || !res.Blocked {
		t.Fatalf("expected a blocked result, got %+v", res)
	}
	if res.Reason != ReasonBlockedKeyword || res.Term != "kill yourself" {
		t.Errorf("unexpected verdict: %+v", res)
	}
	if res.SuspendedFor != int64((15 * time.Minute).Seconds()) {
		t.Errorf("SuspendedFor = %d", res.SuspendedFor)
	}
	if len(esc.calls) != 1 || esc.calls[0] != "alice:"+ReasonBlockedKeyword {
		t.Errorf("escalate calls = %v", esc.calls)
	}

	if len(pub.userIDs) != 1 || pub.userIDs[0] != "alice" {
		t.Fatalf("published to %v, want [alice]", pub.userIDs)
	}
	var got ModerationResult
	if err := json.Unmarshal(pub.payloads[0], &got); err != nil {
		t.Fatalf("payload is not a ModerationResult: %v", err)
	}
	if got.MessageID != "m1" || got.ChatID != "c1" {
		t.Errorf("payload = %+v", got)
	}
}

func TestModerator_EscalationFailureStillPublishes(t *testing.T) {
	esc := &fakeEscalator{err: errors.New("redis down")}
	pub := &capturePublisher{}
	m := NewModerator(NewFilter(), esc, pub, zap.NewNop())

	res := m.Handle(request(t, "free bitcoin here"))
	if res == nil || res.SuspendedFor != 0 {
		t.Fatalf("expected result without suspension, got %+v", res)
	}
	if len(pub.payloads) != 1 {
		t.Errorf("expected the verdict to be published once, got %d", len(pub.payloads))
	}
}

func TestModerator_MalformedRequest(t *testing.T) {
	pub := &capturePublisher{}
	m := NewModerator(NewFilter(), nil, pub, zap.NewNop())

	if res := m.Handle([]byte("{not json")); res != nil {
		t.Errorf("expected nil for malformed payload, got %+v", res)
	}
	if res := m.Handle([]byte(`{"text":"kill yourself"}`)); res != nil {
		t.Errorf("expected nil without sender, got %+v", res)
	}
	if len(pub.payloads) != 0 {
		t.Errorf("nothing should be published, got %d", len(pub.payloads))
	}
}
