package analyze

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const transcriptSystemPrompt = `You are MinuteFlow, an advanced meeting intelligence AI.
Your goal is to analyze the provided live transcript chunk and output actionable insights in STRICT JSON format.

Input Text covers a short window of a meeting.
Context: This is a real-time feed.

Output Schema (JSON):
{
  "summary": "Concise 1-sentence update on what just happened.",
  "tasks": [
    { "id": "uuid", "description": "task description", "assignee": "Name or Unassigned", "deadline": "ISO date or null", "status": "pending" }
  ],
  "visualization": null | { "type": "bar|pie|process", "chart_string": "..." } (Only if the discussion explicitly calls for a visual, otherwise null),
  "citations": [
     { "source_text": "exact quote", "timestamp": 0 }
  ]
}

Analyze deeply but be concise. If no tasks/visuals, return empty arrays/null.`

// Client is the upstream model behind the dispatcher.
type Client interface {
	// Analyze produces a structured result for one transcript chunk.
	Analyze(ctx context.Context, text string) (*Result, error)
	// Answer responds to a free-form question given transcript context.
	Answer(ctx context.Context, transcript, question string) (string, error)
}

// GeminiClient calls the Gemini API for transcript analysis and Q&A.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient dials the Gemini API with the given key. The model name
// defaults to gemini-1.5-flash when empty.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key required")
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (g *GeminiClient) Analyze(ctx context.Context, text string) (*Result, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(transcriptSystemPrompt, genai.RoleUser),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return parseResult(resp.Text())
}

func (g *GeminiClient) Answer(ctx context.Context, transcript, question string) (string, error) {
	prompt := fmt.Sprintf(`Context: The following is a transcript of an ongoing meeting:
%q

User Question: %q

Answer the question concisely based strictly on the context provided. If the answer is not in the context, say "I don't have that information yet."`, transcript, question)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	return resp.Text(), nil
}

// parseResult decodes a model response into a Result, rejecting payloads
// that do not carry the expected shape.
func parseResult(raw string) (*Result, error) {
	var probe struct {
		Summary       *string          `json:"summary"`
		Tasks         *json.RawMessage `json:"tasks"`
		Visualization json.RawMessage  `json:"visualization"`
		Citations     *json.RawMessage `json:"citations"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if probe.Summary == nil || probe.Tasks == nil || probe.Citations == nil {
		return nil, fmt.Errorf("gemini: response missing required fields")
	}

	var result Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if result.Tasks == nil {
		result.Tasks = []Task{}
	}
	if result.Citations == nil {
		result.Citations = []Citation{}
	}
	return &result, nil
}
