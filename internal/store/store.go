// Package store persists interview results, the handoff outbox and generated
// question lists in sqlite or postgres.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rbright/candor/internal/logging"
	"github.com/rbright/candor/internal/questions"
	_ "modernc.org/sqlite"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultRecommendation is stored until a reviewer decides otherwise.
const DefaultRecommendation = "Not recommended"

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound is returned when a lookup has no row.
var ErrNotFound = errors.New("not found")

// Config selects the database.
type Config struct {
	Driver string
	DSN    string
}

// Store is a migrated database handle.
type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects, applies pending migrations and returns the store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	var (
		db      *sql.DB
		dialect goose.Dialect
		err     error
	)
	switch driver {
	case DriverSQLite:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			if dsn, err = DefaultPath(); err != nil {
				return nil, err
			}
		}
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
				return nil, fmt.Errorf("create store dir: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
		}
		dialect = goose.DialectSQLite3
	case DriverPostgres, "pgx":
		driver = DriverPostgres
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			return nil, errors.New("postgres store requires a dsn or DATABASE_URL")
		}
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	if err := migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, driver: driver, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// DefaultPath resolves the sqlite file under the state directory.
func DefaultPath() (string, error) {
	dir, err := logging.StateDir()
	if err != nil {
		return "", fmt.Errorf("resolve state dir: %w", err)
	}
	return filepath.Join(dir, "candor.db"), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Result is one completed interview record.
type Result struct {
	ID              string
	FullName        string
	Email           string
	InterviewID     string
	Transcript      json.RawMessage
	Recommendations string
	CompletedAt     time.Time
}

// SaveResult inserts one interview result and returns its id.
// Recommendations and CompletedAt get defaults when unset.
func (s *Store) SaveResult(ctx context.Context, r Result) (string, error) {
	if strings.TrimSpace(r.InterviewID) == "" {
		return "", errors.New("result interview id is empty")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if strings.TrimSpace(r.Recommendations) == "" {
		r.Recommendations = DefaultRecommendation
	}
	if r.CompletedAt.IsZero() {
		r.CompletedAt = s.now()
	}
	transcript := r.Transcript
	if len(transcript) == 0 {
		transcript = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO interview_results (
			id, fullname, email, interview_id, conversation_transcript, recommendations, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.FullName, r.Email, r.InterviewID, string(transcript), r.Recommendations, r.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert interview result: %w", err)
	}
	return r.ID, nil
}

// Results lists the stored results for one interview, oldest first.
func (s *Store) Results(ctx context.Context, interviewID string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, fullname, email, interview_id, conversation_transcript, recommendations, completed_at
		FROM interview_results WHERE interview_id = ? ORDER BY completed_at ASC`), interviewID)
	if err != nil {
		return nil, fmt.Errorf("query interview results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			r          Result
			transcript string
			completed  int64
		)
		if err := rows.Scan(&r.ID, &r.FullName, &r.Email, &r.InterviewID, &transcript, &r.Recommendations, &completed); err != nil {
			return nil, err
		}
		r.Transcript = json.RawMessage(transcript)
		r.CompletedAt = time.UnixMilli(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Queued is one undelivered handoff.
type Queued struct {
	ID          string
	InterviewID string
	Payload     json.RawMessage
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}

// Enqueue stores a handoff payload for later delivery.
func (s *Store) Enqueue(ctx context.Context, interviewID string, payload json.RawMessage, cause error) (string, error) {
	id := uuid.NewString()
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO handoff_outbox (id, interview_id, payload, attempts, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		id, interviewID, string(payload), 1, lastError, s.now().UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue handoff: %w", err)
	}
	return id, nil
}

// Pending lists undelivered handoffs, oldest first. limit <= 0 means all.
func (s *Store) Pending(ctx context.Context, limit int) ([]Queued, error) {
	query := `
		SELECT id, interview_id, payload, attempts, last_error, created_at
		FROM handoff_outbox WHERE delivered_at IS NULL ORDER BY created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query handoff outbox: %w", err)
	}
	defer rows.Close()

	var out []Queued
	for rows.Next() {
		var (
			q       Queued
			payload string
			created int64
		)
		if err := rows.Scan(&q.ID, &q.InterviewID, &payload, &q.Attempts, &q.LastError, &created); err != nil {
			return nil, err
		}
		q.Payload = json.RawMessage(payload)
		q.CreatedAt = time.UnixMilli(created)
		out = append(out, q)
	}
	return out, rows.Err()
}

// MarkDelivered removes a handoff from the pending set.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	return s.execOne(ctx, "mark handoff delivered", `
		UPDATE handoff_outbox SET delivered_at = ?, last_error = '' WHERE id = ?`,
		s.now().UnixMilli(), id)
}

// RecordAttempt counts a failed delivery attempt.
func (s *Store) RecordAttempt(ctx context.Context, id string, cause error) error {
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}
	return s.execOne(ctx, "record handoff attempt", `
		UPDATE handoff_outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		lastError, id)
}

// SaveQuestions stores the question list for an interview, replacing any
// earlier list.
func (s *Store) SaveQuestions(ctx context.Context, interviewID, vendor, model string, list []questions.Question) error {
	if list == nil {
		list = []questions.Question{}
	}
	data, err := json.Marshal(questions.List{InterviewQuestions: list})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO interview_questions (interview_id, questions, vendor, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (interview_id) DO UPDATE SET
			questions = excluded.questions,
			vendor = excluded.vendor,
			model = excluded.model,
			updated_at = excluded.updated_at`),
		interviewID, string(data), vendor, model, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save interview questions: %w", err)
	}
	return nil
}

// Questions returns the stored question list for an interview.
func (s *Store) Questions(ctx context.Context, interviewID string) ([]questions.Question, error) {
	var data string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT questions FROM interview_questions WHERE interview_id = ?`), interviewID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load interview questions: %w", err)
	}
	return questions.Decode(json.RawMessage(data)), nil
}

func (s *Store) execOne(ctx context.Context, op string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
