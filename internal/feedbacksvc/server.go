// Package feedbacksvc serves feedback and question generation over HTTP.
package feedbacksvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rbright/candor/internal/llm"
	"github.com/rbright/candor/internal/llmjson"
	"github.com/rbright/candor/internal/questions"
)

// ChatterFactory returns a model client for vendor.
type ChatterFactory func(ctx context.Context, vendor llm.Vendor) (llm.Chatter, error)

// Service holds the route dependencies.
type Service struct {
	Selector llm.Selector
	Chatters ChatterFactory
	Logger   *slog.Logger
}

// Routes builds the gin engine.
func (s *Service) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware())

	r.GET("/health", s.health)
	api := r.Group("/api")
	{
		api.POST("/ai-feedback", s.feedback)
		api.POST("/ai-model", s.questions)
	}
	return r
}

func (s *Service) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "candor-feedback"})
}

type feedbackRequest struct {
	Conversation json.RawMessage `json:"conversation"`
}

func (s *Service) feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "ai feedback", fmt.Errorf("decode request: %w", err))
		return
	}

	prompt := strings.Replace(FeedbackPrompt, "{{conversation}}", conversationText(req.Conversation), 1)
	selection, text, err := s.complete(c.Request.Context(), llm.TaskFeedback, prompt)
	if err != nil {
		s.fail(c, "ai feedback", err)
		return
	}

	parsed, source := llmjson.Parse(text)
	s.log(slog.LevelInfo, "feedback generated", "vendor", selection.Vendor, "model", selection.Model, "parse", source)
	c.JSON(http.StatusOK, gin.H{"vendor": selection.Vendor, "model": selection.Model, "feedback": parsed})
}

func (s *Service) questions(c *gin.Context) {
	var req questions.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, "ai model", fmt.Errorf("decode request: %w", err))
		return
	}

	prompt := strings.NewReplacer(
		"{{job_position}}", req.JobPosition,
		"{{job_description}}", req.JobDescription,
		"{{duration}}", req.Duration,
		"{{type}}", req.Type,
	).Replace(QuestionsPrompt)
	selection, text, err := s.complete(c.Request.Context(), llm.TaskQuestionGeneration, prompt)
	if err != nil {
		s.fail(c, "ai model", err)
		return
	}

	parsed, source := llmjson.Parse(text)
	s.log(slog.LevelInfo, "questions generated", "vendor", selection.Vendor, "model", selection.Model, "parse", source)
	c.JSON(http.StatusOK, gin.H{"vendor": selection.Vendor, "model": selection.Model, "questions": parsed})
}

func (s *Service) complete(ctx context.Context, task llm.Task, prompt string) (llm.Selection, string, error) {
	selection := s.Selector.ModelForTask(task)
	if selection.Model == "" {
		return selection, "", fmt.Errorf("no %s model configured for %s", strings.ToLower(string(task)), selection.Vendor)
	}
	if s.Chatters == nil {
		return selection, "", errors.New("llm client is not configured")
	}
	chatter, err := s.Chatters(ctx, selection.Vendor)
	if err != nil {
		return selection, "", err
	}
	text, err := chatter.Chat(ctx, selection.Model, prompt)
	if err != nil {
		return selection, "", err
	}
	return selection, text, nil
}

func (s *Service) fail(c *gin.Context, route string, err error) {
	s.log(slog.LevelError, route+" failed", "error", err.Error())
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Service) log(level slog.Level, msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Log(context.Background(), level, msg, args...)
	}
}

// conversationText renders the conversation for the prompt. A JSON string is
// used as is; any other value is indented.
func conversationText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "[]"
	}
	var s string
	if json.Unmarshal(trimmed, &s) == nil {
		return s
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return out.String()
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Serve runs the service on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", addr, err)
		}
		return nil
	}
}
