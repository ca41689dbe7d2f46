package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/candor/internal/questions"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "nested", "candor.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveResultDefaults(t *testing.T) {
	s := openTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return now }

	id, err := s.SaveResult(context.Background(), Result{
		FullName:    "Sam Doe",
		Email:       "sam@example.com",
		InterviewID: "iv-1",
		Transcript:  json.RawMessage(`{"rating":{"communication":7}}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	results, err := s.Results(context.Background(), "iv-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, id, results[0].ID)
	require.Equal(t, DefaultRecommendation, results[0].Recommendations)
	require.Equal(t, now.UnixMilli(), results[0].CompletedAt.UnixMilli())
	require.JSONEq(t, `{"rating":{"communication":7}}`, string(results[0].Transcript))
}

func TestSaveResultRequiresInterviewID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SaveResult(context.Background(), Result{FullName: "x"})
	require.ErrorContains(t, err, "interview id is empty")
}

func TestOutboxLifecycle(t *testing.T) {
	s := openTestStore(t)
	tick := int64(1_000)
	s.now = func() time.Time { tick++; return time.UnixMilli(tick) }

	first, err := s.Enqueue(context.Background(), "iv-1", json.RawMessage(`{"n":1}`), errors.New("feedback down"))
	require.NoError(t, err)
	second, err := s.Enqueue(context.Background(), "iv-2", json.RawMessage(`{"n":2}`), nil)
	require.NoError(t, err)

	pending, err := s.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first, pending[0].ID)
	require.Equal(t, "feedback down", pending[0].LastError)
	require.Equal(t, 1, pending[0].Attempts)

	require.NoError(t, s.RecordAttempt(context.Background(), first, errors.New("still down")))
	require.NoError(t, s.MarkDelivered(context.Background(), second))

	pending, err = s.Pending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 2, pending[0].Attempts)
	require.Equal(t, "still down", pending[0].LastError)
	require.JSONEq(t, `{"n":1}`, string(pending[0].Payload))

	require.ErrorIs(t, s.MarkDelivered(context.Background(), "missing"), ErrNotFound)
}

func TestQuestionsUpsert(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Questions(context.Background(), "iv-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveQuestions(context.Background(), "iv-1", "openrouter", "m1", []questions.Question{{Question: "Why Go?"}}))
	require.NoError(t, s.SaveQuestions(context.Background(), "iv-1", "openai", "m2", []questions.Question{{Question: "Why now?", Type: "Behavioral"}}))

	got, err := s.Questions(context.Background(), "iv-1")
	require.NoError(t, err)
	require.Equal(t, []questions.Question{{Question: "Why now?", Type: "Behavioral"}}, got)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candor.db")
	s, err := Open(context.Background(), Config{DSN: path})
	require.NoError(t, err)
	_, err = s.SaveResult(context.Background(), Result{FullName: "A", InterviewID: "iv"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), Config{DSN: path})
	require.NoError(t, err)
	defer s.Close()
	results, err := s.Results(context.Background(), "iv")
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestPostgresRequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Open(context.Background(), Config{Driver: DriverPostgres})
	require.ErrorContains(t, err, "DATABASE_URL")
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	require.Equal(t, "SELECT $1, $2", pg.rebind("SELECT ?, ?"))
	lite := &Store{driver: DriverSQLite}
	require.Equal(t, "SELECT ?, ?", lite.rebind("SELECT ?, ?"))
}
