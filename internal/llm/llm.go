package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MaxCommentChars is how much of each comment body is sent for classification.
const MaxCommentChars = 500

// CommentClassification is the model's verdict on one comment, addressed by its index
// in the request.
type CommentClassification struct {
	Index        int    `json:"index"`
	Category     string `json:"category"`
	QualityScore int    `json:"quality_score"`
}

// Client wraps the Anthropic API for review comment classification.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model. Extra options are
// passed to the SDK (base URL, HTTP client).
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	if apiKey != "" {
		opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	}
	client := anthropic.NewClient(opts...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// buildClassifyPrompt constructs the system and user prompts for comment classification.
func buildClassifyPrompt(bodies []string) (system string, user string) {
	system = `You classify code review comments. For each numbered comment decide a category and a quality score.

Categories:
- "cosmetic": style, formatting, naming, typos
- "logic": bugs, correctness, edge cases, error handling
- "structural": architecture, design, refactoring, code organization
- "nit": minor suggestions, nice-to-haves, opinions
- "question": clarifying questions, requests to understand

Quality score (integer 1-10):
- 1-3: brief or superficial ("nit: typo", "LGTM")
- 4-6: standard helpful feedback with clear reasoning
- 7-10: detailed, insightful, educational, catches subtle bugs

Return ONLY a JSON object of the form:
{"results": [{"index": 0, "category": "logic", "quality_score": 7}]}

Rules:
- Include one entry per comment, using the number shown in brackets as "index"
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	sb.WriteString("Classify these code review comments:\n\n")
	for i, body := range bodies {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i, truncate(body, MaxCommentChars))
	}
	user = sb.String()
	return
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// ClassifyComments asks the model to categorize and score each comment body.
func (c *Client) ClassifyComments(ctx context.Context, bodies []string) ([]CommentClassification, error) {
	if len(bodies) == 0 {
		return nil, nil
	}
	systemPrompt, userPrompt := buildClassifyPrompt(bodies)

	text, err := c.complete(ctx, systemPrompt, userPrompt, 4096)
	if err != nil {
		return nil, err
	}
	return parseClassifications(text)
}

func (c *Client) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in API response")
}

// stripFences removes a surrounding ```json ... ``` block if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

func parseClassifications(text string) ([]CommentClassification, error) {
	text = stripFences(text)

	var batch struct {
		Results []CommentClassification `json:"results"`
	}
	if err := json.Unmarshal([]byte(text), &batch); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return batch.Results, nil
}
