package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rbright/candor/internal/transcript"
)

// Handoff is the finished call passed to the feedback pipeline.
type Handoff struct {
	SessionID  string            `json:"session_id"`
	Config     Config            `json:"config"`
	Transcript []transcript.Turn `json:"transcript"`
	Reason     string            `json:"reason"`
	EndedAt    time.Time         `json:"ended_at"`
}

// Outcome reports what happened to a handoff.
type Outcome struct {
	ResultID string
	Vendor   string
	Model    string
	Feedback json.RawMessage
	// Summary is the assessment summary, or the raw model text when the
	// reply was not structured.
	Summary string

	// Queued is set when delivery failed and the handoff was stored for a
	// later flush.
	Queued  bool
	QueueID string
	Cause   string
}

// Committer delivers the transcript of a finished call.
type Committer interface {
	Commit(context.Context, Handoff) (Outcome, error)
}

// CommitFunc adapts a function to the Committer interface.
type CommitFunc func(context.Context, Handoff) (Outcome, error)

func (f CommitFunc) Commit(ctx context.Context, h Handoff) (Outcome, error) {
	return f(ctx, h)
}
