package summarizer

import "strings"

// maxSummaryChars is the hard ceiling on Result.Summary per spec.md §3 invariant 5.
const maxSummaryChars = 800

// maxListLen bounds tags/topics/audience per spec.md §3 invariant 5/7.
const maxListLen = 6

// validTypes is the closed classification.type enum from spec.md §3.
var validTypes = map[string]bool{
	"news": true, "article": true, "discussion": true, "research": true, "other": true,
}

// tagAliases applies case-fold rewrites to known tags/topics, per spec.md §3
// invariant 5's example `btrfs → Btrfs`. Keys are lower-cased for lookup.
var tagAliases = map[string]string{
	"btrfs":      "Btrfs",
	"kubernetes": "Kubernetes",
	"golang":     "Go",
	"postgresql": "PostgreSQL",
	"rust":       "Rust",
	"llm":        "LLM",
	"ai":         "AI",
}

// audienceVocabulary is the closed controlled vocabulary from spec.md's
// glossary entry for "Controlled vocabulary (audience)". Not spec-mandated
// beyond "closed string set of known roles" — resolved here as an Open
// Question decision (see DESIGN.md).
var audienceVocabulary = map[string]bool{
	"engineers":    true,
	"researchers":  true,
	"executives":   true,
	"general":      true,
	"students":     true,
	"policymakers": true,
}

// normalizeList trims, drops empties, applies the alias table, enforces the
// 2..40 char element bound, and caps the result at maxListLen.
func normalizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if alias, ok := tagAliases[strings.ToLower(item)]; ok {
			item = alias
		}
		if len(item) < 2 || len(item) > 40 {
			continue
		}
		out = append(out, item)
		if len(out) == maxListLen {
			break
		}
	}
	return out
}

// filterAudience keeps only values in the closed controlled vocabulary.
func filterAudience(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if audienceVocabulary[item] {
			out = append(out, item)
			if len(out) == maxListLen {
				break
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// assembleResult converts a parsed raw model response into a validated
// Result per spec.md §4.7's "output assembly & validation" step. It never
// errors: out-of-range or malformed optional fields are dropped or clamped,
// not rejected, since only the summary is mandatory (checked by the caller).
func assembleResult(raw rawResponse) Result {
	summary := strings.TrimSpace(raw.Summary)
	if len(summary) > maxSummaryChars {
		summary = summary[:maxSummaryChars]
	}

	classType := raw.Classification.Type
	if !validTypes[classType] {
		classType = ""
	}

	return Result{
		Summary: summary,
		Classification: Classification{
			PrimaryCategory: strings.TrimSpace(raw.Classification.PrimaryCategory),
			Type:            classType,
			Tags:            normalizeList(raw.Classification.Tags),
			Topics:          normalizeList(raw.Classification.Topics),
		},
		UI: UI{
			Summary140:     strings.TrimSpace(raw.UI.Summary140),
			Quicktake:      strings.TrimSpace(raw.UI.Quicktake),
			Audience:       filterAudience(raw.UI.Audience),
			ImpactScore:    clampInt(raw.UI.ImpactScore, 0, 100),
			Confidence:     clampFloat(raw.UI.Confidence, 0, 1),
			ReadingTimeMin: raw.UI.ReadingTimeMin,
			LinkProps: LinkProps{
				Paywall: raw.UI.LinkProps.Paywall,
				Format:  raw.UI.LinkProps.Format,
				IsPDF:   raw.UI.LinkProps.IsPDF,
			},
		},
	}
}
