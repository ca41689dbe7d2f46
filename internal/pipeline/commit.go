// Package pipeline delivers finished interview transcripts to the feedback
// service and the result store, queueing them locally when delivery fails.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/candor/internal/feedback"
	"github.com/rbright/candor/internal/llmjson"
	"github.com/rbright/candor/internal/questions"
	"github.com/rbright/candor/internal/session"
	"github.com/rbright/candor/internal/store"
	"github.com/rbright/candor/internal/transcript"
)

// FeedbackService generates an assessment for a serialized conversation.
type FeedbackService interface {
	Generate(ctx context.Context, conversation string) (feedback.Response, error)
}

// QuestionService generates a question list for a role.
type QuestionService interface {
	Generate(ctx context.Context, req questions.Request) (questions.Response, error)
}

// Store is the persistence used by the pipeline.
type Store interface {
	SaveResult(ctx context.Context, r store.Result) (string, error)
	Enqueue(ctx context.Context, interviewID string, payload json.RawMessage, cause error) (string, error)
	Pending(ctx context.Context, limit int) ([]store.Queued, error)
	MarkDelivered(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, cause error) error
	SaveQuestions(ctx context.Context, interviewID, vendor, model string, list []questions.Question) error
}

// Committer is the session.Committer backed by the feedback service and store.
type Committer struct {
	Feedback  FeedbackService
	Questions QuestionService
	Store     Store
	// Regenerate requests a fresh question list after each saved result.
	Regenerate bool
	Logger     *slog.Logger
}

// Commit generates feedback and saves the result. When either step fails the
// handoff is queued and the outcome is marked Queued; an error is returned
// only when queueing fails too.
func (c *Committer) Commit(ctx context.Context, h session.Handoff) (session.Outcome, error) {
	out, err := c.deliver(ctx, h)
	if err == nil {
		c.log(slog.LevelInfo, "handoff delivered",
			"interview_id", h.Config.InterviewID,
			"result_id", out.ResultID,
			"vendor", out.Vendor,
			"model", out.Model,
			"turns", len(h.Transcript),
		)
		return out, nil
	}

	c.log(slog.LevelWarn, "handoff failed; queueing", "interview_id", h.Config.InterviewID, "error", err.Error())
	if c.Store == nil {
		return session.Outcome{}, fmt.Errorf("%w; no store configured for queueing", err)
	}
	payload, merr := json.Marshal(h)
	if merr != nil {
		return session.Outcome{}, errors.Join(err, fmt.Errorf("marshal handoff: %w", merr))
	}
	queueID, qerr := c.Store.Enqueue(ctx, h.Config.InterviewID, payload, err)
	if qerr != nil {
		return session.Outcome{}, errors.Join(err, qerr)
	}
	return session.Outcome{Queued: true, QueueID: queueID, Cause: err.Error()}, nil
}

func (c *Committer) deliver(ctx context.Context, h session.Handoff) (session.Outcome, error) {
	if c.Feedback == nil {
		return session.Outcome{}, errors.New("feedback service is not configured")
	}
	if c.Store == nil {
		return session.Outcome{}, errors.New("result store is not configured")
	}

	conversation, err := transcript.Serialize(h.Transcript)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("serialize transcript: %w", err)
	}
	resp, err := c.Feedback.Generate(ctx, conversation)
	if err != nil {
		return session.Outcome{}, fmt.Errorf("generate feedback: %w", err)
	}

	record := resp.Record()
	completedAt := h.EndedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	id, err := c.Store.SaveResult(ctx, store.Result{
		FullName:    h.Config.CandidateName,
		Email:       h.Config.CandidateEmail,
		InterviewID: h.Config.InterviewID,
		Transcript:  record,
		CompletedAt: completedAt,
	})
	if err != nil {
		return session.Outcome{}, fmt.Errorf("save interview result: %w", err)
	}

	if c.Regenerate {
		c.regenerate(ctx, h.Config)
	}

	return session.Outcome{
		ResultID: id,
		Vendor:   resp.Vendor,
		Model:    resp.Model,
		Feedback: record,
		Summary:  summary(resp),
	}, nil
}

// regenerate refreshes the stored question list for the interview. Failures
// are logged only.
func (c *Committer) regenerate(ctx context.Context, cfg session.Config) {
	if c.Questions == nil {
		return
	}
	resp, err := c.Questions.Generate(ctx, questions.Request{
		JobPosition:    cfg.JobPosition,
		JobDescription: cfg.JobDescription,
		Duration:       cfg.Duration,
		Type:           cfg.Type,
	})
	if err != nil {
		c.log(slog.LevelWarn, "question regeneration failed", "interview_id", cfg.InterviewID, "error", err.Error())
		return
	}
	if len(resp.Questions) == 0 {
		c.log(slog.LevelWarn, "question regeneration returned no questions", "interview_id", cfg.InterviewID)
		return
	}
	if err := c.Store.SaveQuestions(ctx, cfg.InterviewID, resp.Vendor, resp.Model, resp.Questions); err != nil {
		c.log(slog.LevelWarn, "save regenerated questions failed", "interview_id", cfg.InterviewID, "error", err.Error())
		return
	}
	c.log(slog.LevelInfo, "questions regenerated", "interview_id", cfg.InterviewID, "count", len(resp.Questions))
}

// FlushResult counts the outcome of one flush pass.
type FlushResult struct {
	Delivered int
	Failed    int
}

// Flush retries every queued handoff once.
func (c *Committer) Flush(ctx context.Context) (FlushResult, error) {
	if c.Store == nil {
		return FlushResult{}, errors.New("result store is not configured")
	}
	pending, err := c.Store.Pending(ctx, 0)
	if err != nil {
		return FlushResult{}, err
	}

	var result FlushResult
	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var h session.Handoff
		if err := json.Unmarshal(item.Payload, &h); err != nil {
			result.Failed++
			_ = c.Store.RecordAttempt(ctx, item.ID, fmt.Errorf("decode queued handoff: %w", err))
			continue
		}

		if _, err := c.deliver(ctx, h); err != nil {
			result.Failed++
			c.log(slog.LevelWarn, "queued handoff failed", "id", item.ID, "attempts", item.Attempts+1, "error", err.Error())
			if rerr := c.Store.RecordAttempt(ctx, item.ID, err); rerr != nil {
				return result, rerr
			}
			continue
		}
		if err := c.Store.MarkDelivered(ctx, item.ID); err != nil {
			return result, err
		}
		result.Delivered++
	}
	return result, nil
}

func summary(resp feedback.Response) string {
	if report, ok := resp.Report(); ok {
		return report.Summary
	}
	record := resp.Record()
	if text, ok := llmjson.RawText(record); ok {
		return strings.TrimSpace(text)
	}
	var nested struct {
		Feedback json.RawMessage `json:"feedback"`
	}
	if json.Unmarshal(record, &nested) == nil {
		if text, ok := llmjson.RawText(nested.Feedback); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func (c *Committer) log(level slog.Level, msg string, args ...any) {
	if c.Logger != nil {
		c.Logger.Log(context.Background(), level, msg, args...)
	}
}
