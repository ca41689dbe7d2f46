package questions

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
)

// Request describes the role to generate questions for.
type Request struct {
	JobPosition    string `json:"job_position"`
	JobDescription string `json:"job_description"`
	Duration       string `json:"duration"`
	Type           string `json:"type"`
}

// Response is the generation service reply.
type Response struct {
	Vendor    string          `json:"vendor"`
	Model     string          `json:"model"`
	Raw       json.RawMessage `json:"questions"`
	Questions []Question      `json:"-"`
}

// Client calls POST {BaseURL}/api/ai-model.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a client with a request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

// Generate asks the service for a fresh question list.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return Response{}, errors.New("questions service url is empty")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/ai-model", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request questions: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("read questions response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Response{}, fmt.Errorf("questions service: HTTP %d: %s", resp.StatusCode, serviceError(payload))
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return Response{}, fmt.Errorf("decode questions response: %w", err)
	}
	out.Questions = Decode(out.Raw)
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
