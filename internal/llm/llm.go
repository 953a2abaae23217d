package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/examgen/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ChatCompleter is the slice of the OpenAI-compatible API the agents
// use. Keeping it an interface lets tests substitute a scripted fake.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client runs the three exam agents against an OpenAI-compatible API.
// Drafting uses a fast model; evaluation and formatting use a stronger
// reasoning model.
type Client struct {
	api        ChatCompleter
	draftModel string
	evalModel  string
}

// New creates a new LLM client.
func New(baseURL, apiKey, draftModel, evalModel string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:        openai.NewClientWithConfig(config),
		draftModel: draftModel,
		evalModel:  evalModel,
	}
}

// NewWithCompleter creates a client around an existing completer.
func NewWithCompleter(api ChatCompleter, draftModel, evalModel string) *Client {
	return &Client{api: api, draftModel: draftModel, evalModel: evalModel}
}

// Generate builds one exam draft from the configuration, optionally
// steered by evaluator feedback from a previous attempt. Transport and
// parse failures both surface as errors; the caller treats any error as
// "no draft produced" and may retry.
func (c *Client) Generate(ctx context.Context, cfg model.ExamConfig, feedback string) (*model.ExamDocument, error) {
	// Slightly more exploration when retrying a rejected draft.
	temperature := float32(0.7)
	if feedback != "" {
		temperature = 0.8
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.draftModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a strict JSON generator. You output only valid JSON."},
			{Role: openai.ChatMessageRoleUser, Content: buildGeneratePrompt(cfg, feedback)},
		},
		Temperature: temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("draft API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("draft returned no choices")
	}

	raw := StripCodeFence(resp.Choices[0].Message.Content)
	slog.Debug("draft response", "raw", raw)

	var doc model.ExamDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse draft: %w", err)
	}
	if err := validateDocument(doc); err != nil {
		return nil, fmt.Errorf("draft schema: %w", err)
	}
	return &doc, nil
}

// validateDocument rejects drafts missing required fields instead of
// letting half-formed exams reach the evaluator.
func validateDocument(doc model.ExamDocument) error {
	if doc.Title == "" {
		return fmt.Errorf("missing exam_title")
	}
	if len(doc.Questions) == 0 {
		return fmt.Errorf("no questions")
	}
	for i, q := range doc.Questions {
		if q.Text == "" {
			return fmt.Errorf("question %d: missing question_text", i+1)
		}
		if q.CorrectAnswer == "" {
			return fmt.Errorf("question %d: missing correct_answer", i+1)
		}
	}
	return nil
}

// Evaluation fallbacks. The neutral mid-score keeps one evaluator
// glitch from force-accepting or force-rejecting a draft.
const (
	fallbackScore    = 50
	fallbackFeedback = "Evaluation failed."
	noDataFeedback   = "No data generated."
)

// Evaluate scores a draft against the configuration. It never fails:
// a nil draft short-circuits to score 0 without a model call, and any
// transport or parse failure degrades to the neutral fallback.
func (c *Client) Evaluate(ctx context.Context, doc *model.ExamDocument, cfg model.ExamConfig) model.Evaluation {
	if doc == nil {
		return model.Evaluation{Score: 0, Feedback: noDataFeedback}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		slog.Warn("marshal draft for evaluation", "error", err)
		return model.Evaluation{Score: fallbackScore, Feedback: fallbackFeedback}
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.evalModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a JSON scoring bot. Output only JSON."},
			{Role: openai.ChatMessageRoleUser, Content: buildEvaluatePrompt(cfg, string(payload))},
		},
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		slog.Warn("evaluation API call failed", "error", err)
		return model.Evaluation{Score: fallbackScore, Feedback: fallbackFeedback}
	}
	if len(resp.Choices) == 0 {
		slog.Warn("evaluation returned no choices")
		return model.Evaluation{Score: fallbackScore, Feedback: fallbackFeedback}
	}

	raw := StripCodeFence(resp.Choices[0].Message.Content)
	var eval model.Evaluation
	if err := json.Unmarshal([]byte(raw), &eval); err != nil {
		slog.Warn("parse evaluation response", "error", err, "raw", raw)
		return model.Evaluation{Score: fallbackScore, Feedback: fallbackFeedback}
	}
	if eval.Feedback == "" {
		eval.Feedback = "No feedback"
	}
	return eval
}

// Format converts a draft into a styled HTML fragment. On failure it
// returns an inline error fragment rather than an error; the result is
// always renderable.
func (c *Client) Format(ctx context.Context, doc *model.ExamDocument) string {
	payload, err := json.Marshal(doc)
	if err != nil {
		return formatErrorFragment(err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.evalModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildFormatPrompt(string(payload))},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return formatErrorFragment(err)
	}
	if len(resp.Choices) == 0 {
		return formatErrorFragment(fmt.Errorf("no choices"))
	}

	return StripCodeFence(resp.Choices[0].Message.Content)
}

func formatErrorFragment(err error) string {
	return fmt.Sprintf("<p>Error formatting HTML: %v</p>", err)
}
