// Package analyze turns transcript chunks into structured meeting analysis.
//
// All model calls funnel through a single Dispatcher whose pacer enforces a
// global minimum interval between upstream requests, regardless of how many
// sessions are active.
package analyze

// Task is a single action item extracted from the conversation.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
	Deadline    string `json:"deadline,omitempty"`
	Status      string `json:"status"`
}

// Visualization is a renderable diagram accompanying the analysis.
type Visualization struct {
	Type        string `json:"type"`
	ChartString string `json:"chart_string"`
}

// Citation ties an analysis statement back to the transcript.
type Citation struct {
	SourceText string  `json:"source_text"`
	Timestamp  float64 `json:"timestamp"`
}

// Result is the structured analysis produced for one transcript chunk.
// The zero value is not valid; results come from the dispatcher.
type Result struct {
	Summary       string         `json:"summary"`
	Tasks         []Task         `json:"tasks"`
	Visualization *Visualization `json:"visualization"`
	Citations     []Citation     `json:"citations"`
}

// Answer is the response to an ad-hoc question about the transcript.
type Answer struct {
	RequestID string `json:"request_id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
}
