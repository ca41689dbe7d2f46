// Package feedback requests an interview assessment from the feedback service.
package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rbright/candor/internal/llmjson"
)

// Report is the structured assessment the service is prompted to return.
// Any field may be missing when the model strays from the format.
type Report struct {
	Rating            map[string]float64 `json:"rating,omitempty"`
	Summary           string             `json:"summary,omitempty"`
	Recommendation    string             `json:"recommendation,omitempty"`
	RecommendationMsg string             `json:"recommendationMsg,omitempty"`
}

// Response is the service reply.
type Response struct {
	Vendor   string          `json:"vendor"`
	Model    string          `json:"model"`
	Feedback json.RawMessage `json:"feedback"`

	body json.RawMessage
}

// Record returns the JSON to persist: the feedback field when present,
// otherwise the whole reply.
func (r Response) Record() json.RawMessage {
	trimmed := bytes.TrimSpace(r.Feedback)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		return r.Feedback
	}
	return r.body
}

// Report extracts the structured assessment from the record. The record may
// nest it under another "feedback" key. ok is false for the raw fallback.
func (r Response) Report() (Report, bool) {
	return ParseReport(r.Record())
}

// ParseReport decodes an assessment, unwrapping one "feedback" level and
// accepting the loosely spelled keys models tend to produce.
func ParseReport(raw json.RawMessage) (Report, bool) {
	if _, ok := llmjson.RawText(raw); ok {
		return Report{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Report{}, false
	}
	if inner, ok := fields["feedback"]; ok {
		nested := map[string]json.RawMessage{}
		if err := json.Unmarshal(inner, &nested); err != nil {
			return Report{}, false
		}
		fields = nested
	}

	var report Report
	found := false
	for key, value := range fields {
		switch normalizeKey(key) {
		case "rating", "ratings":
			var rating map[string]float64
			if json.Unmarshal(value, &rating) == nil {
				report.Rating = rating
				found = true
			}
		case "summary", "summery":
			found = unmarshalString(value, &report.Summary) || found
		case "recommendation":
			found = unmarshalString(value, &report.Recommendation) || found
		case "recommendationmessage", "recommendationmsg":
			found = unmarshalString(value, &report.RecommendationMsg) || found
		}
	}
	return report, found
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key))
}

func unmarshalString(value json.RawMessage, dst *string) bool {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return false
	}
	*dst = strings.TrimSpace(s)
	return true
}

// Client calls POST {BaseURL}/api/ai-feedback.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a client with a request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// Generate submits the serialized conversation and returns the assessment.
func (c *Client) Generate(ctx context.Context, conversation string) (Response, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return Response{}, errors.New("feedback service url is empty")
	}

	body, err := json.Marshal(map[string]string{"conversation": conversation})
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/ai-feedback", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request feedback: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read feedback response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("feedback service: HTTP %d: %s", resp.StatusCode, serviceError(payload))
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return Response{}, fmt.Errorf("decode feedback response: %w", err)
	}
	out.body = json.RawMessage(payload)
	return out, nil
}

func serviceError(payload []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(payload))
}
