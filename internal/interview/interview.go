// Package interview holds the immutable per-session interview input.
package interview

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rbright/candor/internal/questions"
)

// Config is created upstream before the session starts and never mutated.
type Config struct {
	InterviewID    string               `json:"interview_id"`
	CandidateName  string               `json:"candidate_name"`
	CandidateEmail string               `json:"candidate_email"`
	JobPosition    string               `json:"job_position"`
	JobDescription string               `json:"job_description,omitempty"`
	Duration       string               `json:"duration,omitempty"`
	Type           string               `json:"type,omitempty"`
	Questions      []questions.Question `json:"questions"`
}

// UnmarshalJSON accepts any question list shape questions.Decode understands.
// The stored interview record spells the list question_list and the
// candidate address email; both are read when the canonical key is absent.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	var raw struct {
		plain
		Questions    json.RawMessage `json:"questions"`
		QuestionList json.RawMessage `json:"question_list"`
		Email        string          `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Config(raw.plain)
	if strings.TrimSpace(c.CandidateEmail) == "" {
		c.CandidateEmail = strings.TrimSpace(raw.Email)
	}
	list := raw.Questions
	if len(list) == 0 || string(list) == "null" {
		list = raw.QuestionList
	}
	c.Questions = questions.Decode(list)
	return nil
}

// Validate reports missing identity fields.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.InterviewID) == "" {
		errs = append(errs, errors.New("interview_id is required"))
	}
	if strings.TrimSpace(c.CandidateName) == "" {
		errs = append(errs, errors.New("candidate_name is required"))
	}
	if strings.TrimSpace(c.JobPosition) == "" {
		errs = append(errs, errors.New("job_position is required"))
	}
	return errors.Join(errs...)
}

// QuestionTexts returns the ordered question strings.
func (c Config) QuestionTexts() []string {
	return questions.Texts(c.Questions)
}

// Load reads and validates a config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read interview %q: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse interview %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid interview %q: %w", path, err)
	}
	return cfg, nil
}
