package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/candor/internal/feedback"
	"github.com/rbright/candor/internal/interview"
	"github.com/rbright/candor/internal/questions"
	"github.com/rbright/candor/internal/session"
	"github.com/rbright/candor/internal/store"
	"github.com/rbright/candor/internal/transcript"
	"github.com/stretchr/testify/require"
)

type fakeFeedback struct {
	calls        atomic.Int32
	conversation string
	resp         feedback.Response
	err          error
}

func (f *fakeFeedback) Generate(_ context.Context, conversation string) (feedback.Response, error) {
	f.calls.Add(1)
	f.conversation = conversation
	return f.resp, f.err
}

type fakeQuestions struct {
	calls atomic.Int32
	resp  questions.Response
	err   error
}

func (f *fakeQuestions) Generate(context.Context, questions.Request) (questions.Response, error) {
	f.calls.Add(1)
	return f.resp, f.err
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.Config{DSN: filepath.Join(t.TempDir(), "candor.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testHandoff() session.Handoff {
	return session.Handoff{
		SessionID: "s-1",
		Config: interview.Config{
			InterviewID:    "iv-1",
			CandidateName:  "Sam Doe",
			CandidateEmail: "sam@example.com",
			JobPosition:    "Backend Engineer",
		},
		Transcript: []transcript.Turn{
			{Role: transcript.RoleSystem, Content: "You are an interviewer"},
			{Role: transcript.RoleAssistant, Content: "Hi Sam"},
			{Role: transcript.RoleUser, Content: "Hello"},
		},
		Reason:  "wrap_up",
		EndedAt: time.UnixMilli(1_700_000_000_000),
	}
}

func feedbackResponse(t *testing.T, body string) feedback.Response {
	t.Helper()
	var resp feedback.Response
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	return resp
}

func TestCommitDeliversFilteredTranscript(t *testing.T) {
	st := openStore(t)
	fb := &fakeFeedback{resp: feedbackResponse(t, `{"vendor":"openrouter","model":"m","feedback":{"feedback":{"summary":"Strong","rating":{"communication":8}}}}`)}
	qs := &fakeQuestions{resp: questions.Response{Vendor: "openrouter", Model: "m", Questions: []questions.Question{{Question: "Next?"}}}}
	c := &Committer{Feedback: fb, Questions: qs, Store: st, Regenerate: true}

	out, err := c.Commit(context.Background(), testHandoff())
	require.NoError(t, err)
	require.False(t, out.Queued)
	require.NotEmpty(t, out.ResultID)
	require.Equal(t, "Strong", out.Summary)

	require.NotContains(t, fb.conversation, "system")
	require.Contains(t, fb.conversation, "  {\n    \"role\": \"assistant\"")

	results, err := st.Results(context.Background(), "iv-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "Sam Doe", results[0].FullName)
	require.Equal(t, store.DefaultRecommendation, results[0].Recommendations)
	require.JSONEq(t, `{"feedback":{"summary":"Strong","rating":{"communication":8}}}`, string(results[0].Transcript))

	require.Equal(t, int32(1), qs.calls.Load())
	stored, err := st.Questions(context.Background(), "iv-1")
	require.NoError(t, err)
	require.Equal(t, []string{"Next?"}, questions.Texts(stored))
}

func TestCommitRawFeedbackSummary(t *testing.T) {
	fb := &fakeFeedback{resp: feedbackResponse(t, `{"vendor":"v","model":"m","feedback":{"raw":"  Good candidate overall. "}}`)}
	c := &Committer{Feedback: fb, Store: openStore(t)}

	out, err := c.Commit(context.Background(), testHandoff())
	require.NoError(t, err)
	require.Equal(t, "Good candidate overall.", out.Summary)
}

func TestCommitQueuesOnFeedbackFailure(t *testing.T) {
	st := openStore(t)
	fb := &fakeFeedback{err: errors.New("connection refused")}
	c := &Committer{Feedback: fb, Store: st}

	out, err := c.Commit(context.Background(), testHandoff())
	require.NoError(t, err)
	require.True(t, out.Queued)
	require.NotEmpty(t, out.QueueID)
	require.Contains(t, out.Cause, "connection refused")

	pending, err := st.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	var queued session.Handoff
	require.NoError(t, json.Unmarshal(pending[0].Payload, &queued))
	require.Equal(t, "iv-1", queued.Config.InterviewID)
	require.Len(t, queued.Transcript, 3)
}

func TestCommitWithoutStoreFails(t *testing.T) {
	c := &Committer{Feedback: &fakeFeedback{}}
	_, err := c.Commit(context.Background(), testHandoff())
	require.ErrorContains(t, err, "no store configured")
}

func TestRegenerationFailureIsNotFatal(t *testing.T) {
	st := openStore(t)
	fb := &fakeFeedback{resp: feedbackResponse(t, `{"vendor":"v","model":"m","feedback":{"summary":"ok"}}`)}
	qs := &fakeQuestions{err: errors.New("model busy")}
	c := &Committer{Feedback: fb, Questions: qs, Store: st, Regenerate: true}

	out, err := c.Commit(context.Background(), testHandoff())
	require.NoError(t, err)
	require.False(t, out.Queued)
	_, err = st.Questions(context.Background(), "iv-1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFlushRetriesQueuedHandoffs(t *testing.T) {
	st := openStore(t)
	fb := &fakeFeedback{err: errors.New("down")}
	c := &Committer{Feedback: fb, Store: st}

	_, err := c.Commit(context.Background(), testHandoff())
	require.NoError(t, err)

	result, err := c.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, FlushResult{Failed: 1}, result)
	pending, err := st.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, pending[0].Attempts)

	fb.err = nil
	fb.resp = feedbackResponse(t, `{"vendor":"v","model":"m","feedback":{"summary":"late"}}`)
	result, err = c.Flush(context.Background())
	require.NoError(t, err)
	require.Equal(t, FlushResult{Delivered: 1}, result)

	pending, err = st.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, pending)
	results, err := st.Results(context.Background(), "iv-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, int64(1_700_000_000_000), results[0].CompletedAt.UnixMilli())
}
