package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Requester sends a request and waits for its reply.
type Requester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

// RemoteClient runs match searches on a matcher service over NATS.
type RemoteClient struct {
	req     Requester
	subject string
	timeout time.Duration
}

// NewRemoteClient creates a client that sends match.find requests through r.
func NewRemoteClient(r Requester, subject string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &RemoteClient{req: r, subject: subject, timeout: timeout}
}

// Find mirrors Service.Find. Preferences rejected by the matcher surface as
// *ValidationError.
func (c *RemoteClient) Find(ctx context.Context, seekerID string, prefs Preferences) ([]Candidate, error) {
	data, err := json.Marshal(FindRequest{SeekerID: seekerID, Preferences: prefs.Raw()})
	if err != nil {
		return nil, fmt.Errorf("matching: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.req.Request(ctx, c.subject, data)
	if err != nil {
		return nil, fmt.Errorf("matching: remote find: %w", err)
	}

	var resp FindResponse
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("matching: decode reply: %w", err)
	}
	switch {
	case resp.Code == "validation":
		return nil, &ValidationError{Field: resp.Field, Value: resp.Value, Reason: resp.Error}
	case resp.Error != "":
		return nil, fmt.Errorf("matching: remote find: %s", resp.Error)
	}
	if resp.Matches == nil {
		resp.Matches = []Candidate{}
	}
	return resp.Matches, nil
}
