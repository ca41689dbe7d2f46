// Package llm selects a language model vendor per task and sends prompts to it.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// Task names a kind of model work with its own model setting.
type Task string

const (
	TaskQuestionGeneration Task = "QUESTION_GENERATION"
	TaskAnswerEvaluation   Task = "ANSWER_EVALUATION"
	TaskFeedback           Task = "FEEDBACK"
)

// Vendor names a model provider.
type Vendor string

const (
	VendorAzure      Vendor = "azure"
	VendorOpenAI     Vendor = "openai"
	VendorOpenRouter Vendor = "openrouter"
	VendorAnthropic  Vendor = "anthropic"
	VendorGoogle     Vendor = "google"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	anthropicBaseURL  = "https://api.anthropic.com/v1/"
)

var (
	envPrefix = map[Vendor]string{
		VendorAzure:      "AZURE_OPENAI",
		VendorOpenAI:     "OPENAI",
		VendorOpenRouter: "OPENROUTER",
		VendorAnthropic:  "ANTHROPIC",
		VendorGoogle:     "GOOGLE",
	}
	defaultModel = map[Vendor]string{
		VendorOpenAI:     "gpt-4o-mini",
		VendorOpenRouter: "deepseek/deepseek-r1:free",
		VendorAnthropic:  "claude-3-haiku-20240307",
	}
)

// ParseVendor maps a provider name to a Vendor. "gemini" is an alias for
// google. Unknown names fall back to openrouter with ok=false.
func ParseVendor(name string) (Vendor, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "azure":
		return VendorAzure, true
	case "openai":
		return VendorOpenAI, true
	case "openrouter":
		return VendorOpenRouter, true
	case "anthropic":
		return VendorAnthropic, true
	case "google", "gemini":
		return VendorGoogle, true
	default:
		return VendorOpenRouter, false
	}
}

// Selection is the vendor and model chosen for one task.
type Selection struct {
	Vendor Vendor `json:"vendor"`
	Model  string `json:"model"`
}

// Selector resolves the vendor and model for a task. The environment wins
// over configured values, which win over built-in defaults.
type Selector struct {
	Provider string
	Models   map[Task]string
	Getenv   func(string) string
}

// ModelForTask returns the vendor and model for task. Model is empty when
// the vendor has no default and nothing is configured.
func (s Selector) ModelForTask(task Task) Selection {
	getenv := s.getenv()

	provider := strings.TrimSpace(getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = s.Provider
	}
	vendor, _ := ParseVendor(provider)

	model := strings.TrimSpace(getenv(envPrefix[vendor] + "_MODEL_" + string(task)))
	if model == "" {
		model = strings.TrimSpace(s.Models[task])
	}
	if model == "" {
		model = defaultModel[vendor]
	}
	return Selection{Vendor: vendor, Model: model}
}

func (s Selector) getenv() func(string) string {
	if s.Getenv != nil {
		return s.Getenv
	}
	return os.Getenv
}

// Credentials holds vendor secrets, normally read from the environment.
type Credentials struct {
	OpenAIKey     string
	OpenRouterKey string
	AzureKey      string
	AzureEndpoint string
	AnthropicKey  string
	GoogleKey     string

	// BaseURL overrides the vendor endpoint when set.
	BaseURL    string
	HTTPClient *http.Client
}

// CredentialsFromEnv reads the vendor secrets from getenv.
func CredentialsFromEnv(getenv func(string) string) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	google := getenv("GOOGLE_API_KEY")
	if google == "" {
		google = getenv("GEMINI_API_KEY")
	}
	return Credentials{
		OpenAIKey:     getenv("OPENAI_API_KEY"),
		OpenRouterKey: getenv("OPENROUTER_API_KEY"),
		AzureKey:      getenv("AZURE_OPENAI_API_KEY"),
		AzureEndpoint: getenv("AZURE_OPENAI_ENDPOINT"),
		AnthropicKey:  getenv("ANTHROPIC_API_KEY"),
		GoogleKey:     google,
	}
}

// Chatter sends one user prompt and returns the model's text reply.
type Chatter interface {
	Chat(ctx context.Context, model string, prompt string) (string, error)
}

// ChatterFunc adapts a function to Chatter.
type ChatterFunc func(ctx context.Context, model string, prompt string) (string, error)

func (f ChatterFunc) Chat(ctx context.Context, model string, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// NewChatter builds a client for vendor.
func NewChatter(ctx context.Context, vendor Vendor, creds Credentials) (Chatter, error) {
	switch vendor {
	case VendorGoogle:
		return newGemini(ctx, creds)
	case VendorAzure:
		if creds.AzureKey == "" || creds.AzureEndpoint == "" {
			return nil, errors.New("AZURE_OPENAI_API_KEY and AZURE_OPENAI_ENDPOINT are required for azure")
		}
		cfg := openai.DefaultAzureConfig(creds.AzureKey, creds.AzureEndpoint)
		return newOpenAICompatible(cfg, creds), nil
	case VendorOpenAI:
		if creds.OpenAIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai")
		}
		return newOpenAICompatible(openai.DefaultConfig(creds.OpenAIKey), creds), nil
	case VendorAnthropic:
		if creds.AnthropicKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for anthropic")
		}
		cfg := openai.DefaultConfig(creds.AnthropicKey)
		cfg.BaseURL = anthropicBaseURL
		return newOpenAICompatible(cfg, creds), nil
	case VendorOpenRouter:
		if creds.OpenRouterKey == "" {
			return nil, errors.New("OPENROUTER_API_KEY is required for openrouter")
		}
		cfg := openai.DefaultConfig(creds.OpenRouterKey)
		cfg.BaseURL = openRouterBaseURL
		return newOpenAICompatible(cfg, creds), nil
	default:
		return nil, fmt.Errorf("unsupported llm vendor %q", vendor)
	}
}

type openAICompatible struct {
	client *openai.Client
}

func newOpenAICompatible(cfg openai.ClientConfig, creds Credentials) *openAICompatible {
	if creds.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	}
	if creds.HTTPClient != nil {
		cfg.HTTPClient = creds.HTTPClient
	}
	return &openAICompatible{client: openai.NewClientWithConfig(cfg)}
}

func (c *openAICompatible) Chat(ctx context.Context, model string, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

type gemini struct {
	client *genai.Client
}

func newGemini(ctx context.Context, creds Credentials) (*gemini, error) {
	if creds.GoogleKey == "" {
		return nil, errors.New("GOOGLE_API_KEY is required for google")
	}
	cfg := &genai.ClientConfig{
		APIKey:     creds.GoogleKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: creds.HTTPClient,
	}
	if creds.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: creds.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &gemini{client: client}, nil
}

func (g *gemini) Chat(ctx context.Context, model string, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("generate content returned no text")
	}
	return text, nil
}
