package summarizer

// Request carries the bounded payload sent to the LLM per spec.md §4.7:
// "title, domain, url, language, is_pdf, is_paywalled, headings, text_head,
// text_tail, hn_metrics, candidate_tags" — nothing else from the article
// crosses the prompt boundary.
type Request struct {
	TraceID       string
	ArticleID     string
	Title         string
	Domain        string
	URL           string
	Language      string
	IsPDF         bool
	IsPaywalled   bool
	Headings      []string
	TextHead      string
	TextTail      string
	HNMetrics     map[string]any
	CandidateTags []string
}

// LinkProps is the optional nested block inside UI.
type LinkProps struct {
	Paywall bool
	Format  string
	IsPDF   bool
}

// Classification is the optional nested block of Result.
type Classification struct {
	PrimaryCategory string
	Type            string
	Tags            []string
	Topics          []string
}

// UI is the optional nested block of Result feeding front-end rendering.
type UI struct {
	Summary140     string
	Quicktake      string
	Audience       []string
	ImpactScore    int
	Confidence     float64
	ReadingTimeMin int
	LinkProps      LinkProps
}

// Result is the parsed, validated shape of the model's response, per
// spec.md §4.7: "summary, classification{...}, ui{...}", all optional.
type Result struct {
	Summary        string
	Classification Classification
	UI             UI
}

// rawResponse mirrors the JSON the model is instructed to emit; fields are
// pointers/omitted-friendly so a partial response still parses.
type rawResponse struct {
	Summary        string `json:"summary"`
	Classification struct {
		PrimaryCategory string   `json:"primary_category"`
		Type            string   `json:"type"`
		Tags            []string `json:"tags"`
		Topics          []string `json:"topics"`
	} `json:"classification"`
	UI struct {
		Summary140     string   `json:"summary_140"`
		Quicktake      string   `json:"quicktake"`
		Audience       []string `json:"audience"`
		ImpactScore    int      `json:"impact_score"`
		Confidence     float64  `json:"confidence"`
		ReadingTimeMin int      `json:"reading_time_min"`
		LinkProps      struct {
			Paywall bool   `json:"paywall"`
			Format  string `json:"format"`
			IsPDF   bool   `json:"is_pdf"`
		} `json:"link_props"`
	} `json:"ui"`
}
