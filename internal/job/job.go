// Package job defines the wire-level job envelopes exchanged on the queues
// and the versioned JSON codec used to (de)serialise them.
package job

import "encoding/json"

// SchemaVersion is the current job_schema_version this build emits and
// expects on SummariserIn payloads.
const SchemaVersion = 1

// Story is the minimal story reference carried by IngestJob and embedded in
// SummariserIn.
type Story struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	HNID      string `json:"hn_id,omitempty"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// IngestJob is the payload on `ingest:out`.
type IngestJob struct {
	TraceID   string `json:"trace_id"`
	Story     Story  `json:"story"`
	Attempt   int    `json:"attempt"`
	VisibleAt int64  `json:"visible_at,omitempty"`
}

// RetryJob is the shape re-enqueued on `scraper:retry` / `summarizer:retry`:
// the original payload plus an incremented attempt and a visibility deadline.
type RetryJob struct {
	TraceID   string          `json:"trace_id"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	VisibleAt int64           `json:"visible_at"`
	Queue     string          `json:"queue"`
	Reason    string          `json:"reason,omitempty"`
}

// ArticleIn is the scraped-article summary fed to the Summariser.
type ArticleIn struct {
	ID           string   `json:"id"`
	Language     string   `json:"language"`
	WordCount    int      `json:"word_count"`
	IsPDF        bool     `json:"is_pdf"`
	IsPaywalled  bool     `json:"is_paywalled"`
	TextHead     string   `json:"text_head"`
	Headings     []string `json:"headings,omitempty"`
	TextTail     string   `json:"text_tail"`
}

// Hints carries low-confidence signals the LLM may use as priors.
type Hints struct {
	CandidateTags     []string `json:"candidate_tags,omitempty"`
	SourceReputation  string   `json:"source_reputation,omitempty"`
}

// SummariserIn is the payload on `summarizer:in`.
type SummariserIn struct {
	TraceID       string                 `json:"trace_id"`
	Story         Story                  `json:"story"`
	Article       ArticleIn              `json:"article"`
	Hints         Hints                  `json:"hints,omitempty"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
	Attempt       int                    `json:"attempt"`
	SchemaVersion int                    `json:"schema_version"`
}

// Classification is the LLM's structured category assignment.
type Classification struct {
	PrimaryCategory string   `json:"primary_category,omitempty"`
	Type            string   `json:"type"`
	Tags            []string `json:"tags,omitempty"`
	Topics          []string `json:"topics,omitempty"`
}

// LinkProps describes rendering hints for the consuming UI.
type LinkProps struct {
	Paywall bool   `json:"paywall"`
	Format  string `json:"format,omitempty"`
	IsPDF   bool   `json:"is_pdf"`
}

// UI carries presentation-layer fields, all optional.
type UI struct {
	Summary140    string     `json:"summary_140,omitempty"`
	Quicktake     string     `json:"quicktake,omitempty"`
	Audience      []string   `json:"audience,omitempty"`
	ImpactScore   *float64   `json:"impact_score,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
	ReadingTimeMin *int      `json:"reading_time_min,omitempty"`
	LinkProps     *LinkProps `json:"link_props,omitempty"`
}

// Timestamps holds lifecycle timestamps on SummariserOut.
type Timestamps struct {
	SummarizedAt string `json:"summarized_at"`
}

// SummariserOut is the payload on `summarizer:out`.
type SummariserOut struct {
	TraceID        string          `json:"trace_id"`
	StoryID        string          `json:"story_id"`
	ArticleID      string          `json:"article_id"`
	Model          string          `json:"model"`
	Lang           string          `json:"lang"`
	Summary        string          `json:"summary"`
	Classification Classification  `json:"classification"`
	UI             UI              `json:"ui"`
	Embedding      []float32       `json:"embedding,omitempty"`
	Timestamps     Timestamps      `json:"timestamps"`
	SchemaVersion  int             `json:"schema_version"`
}

// DLQEntry is the terminal shape written to DLQ:{queue_name}. Payload is
// kept verbatim so an operator can manually replay it.
type DLQEntry struct {
	Reason   string          `json:"reason"`
	Err      string          `json:"err"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Job      json.RawMessage `json:"job,omitempty"`
	FailedAt string          `json:"failed_at,omitempty"`
}

// Poisoned is the stub wrapping a payload that failed JSON parsing, per
// spec.md §4.1: "a parse failure returns a stub {raw: <string>}".
type Poisoned struct {
	Raw string `json:"raw"`
}

// Marshal is a thin wrapper kept for symmetry and call-site uniformity; the
// wire codec is stdlib JSON throughout (see DESIGN.md — the format is
// spec-mandated raw JSON, not a schema object needing a third-party codec).
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes payload into v, returning a *Poisoned-wrapping error on
// failure so callers can route the message to DLQ without losing the raw
// bytes.
func Unmarshal(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &PoisonedError{Raw: string(payload), Cause: err}
	}
	return nil
}

// PoisonedError wraps a JSON payload that could not be decoded into any
// known envelope shape.
type PoisonedError struct {
	Raw   string
	Cause error
}

func (e *PoisonedError) Error() string {
	return "poisoned payload: " + e.Cause.Error()
}

func (e *PoisonedError) Unwrap() error { return e.Cause }
