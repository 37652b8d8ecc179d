// Package normalize implements the Normaliser of spec.md §4.5: URL
// canonicalisation, registrable-domain extraction, language detection,
// content hashing, and reading-time estimation.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"net/url"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	"golang.org/x/net/publicsuffix"
)

// trackingParams is the closed set spec.md §4.5 names for stripping.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true,
	"fbclid": true, "gclid": true, "mc_cid": true, "mc_eid": true,
}

// CanonicalizeURL parses rawURL, drops the tracking query parameters and
// fragment, and preserves everything else byte-for-byte. It also returns
// the registrable domain ("domain.suffix") derived from the public suffix
// list, per spec.md §4.5's "returns (canonical_url, registrable_domain)".
func CanonicalizeURL(rawURL string) (canonicalURL string, registrableDomain string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}

	query := u.Query()
	for key := range query {
		if trackingParams[key] {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	u.Fragment = ""

	domain, domErr := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if domErr != nil {
		// Hosts without a recognised public suffix (e.g. "localhost", bare
		// IPs) fall back to the raw hostname rather than erroring the job.
		domain = u.Hostname()
	}

	return u.String(), domain, nil
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

func languageDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			Build()
	})
	return detector
}

// DetectLanguage returns the lowercase ISO 639-1 code of text's most likely
// language, or "und" (undetermined) for empty input or when the detector
// can't decide, per spec.md §4.5.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return "und"
	}
	lang, exists := languageDetector().DetectLanguageOf(text)
	if !exists {
		return "und"
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

// ContentHash computes the article deduplication key of spec.md §4.5/§8:
// SHA256(language || "\n" || domain || "\n" || text[:10000]).
func ContentHash(language, domain, text string) string {
	window := text
	if len(window) > 10000 {
		window = window[:10000]
	}
	sum := sha256.Sum256([]byte(language + "\n" + domain + "\n" + window))
	return hex.EncodeToString(sum[:])
}

// ReadingTimeMinutes estimates reading time from word count, clamped to
// [1, 60] minutes per spec.md §8 invariant 4.
func ReadingTimeMinutes(wordCount int) int {
	minutes := int(math.Ceil(float64(wordCount) / 200.0))
	if minutes < 1 {
		minutes = 1
	}
	if minutes > 60 {
		minutes = 60
	}
	return minutes
}

// WordCount splits text on whitespace, matching the teacher's word-count
// convention used for summariser metrics.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
