package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeURL_StripsTrackingParamsAndFragment(t *testing.T) {
	canonical, domain, err := CanonicalizeURL("https://example.com/a?utm_source=x&id=7#section2")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?id=7", canonical)
	assert.Equal(t, "example.com", domain)
}

func TestCanonicalizeURL_PreservesNonTrackingParams(t *testing.T) {
	canonical, _, err := CanonicalizeURL("https://example.com/a?id=7&utm_campaign=spring&ref=homepage")
	require.NoError(t, err)
	assert.Contains(t, canonical, "id=7")
	assert.Contains(t, canonical, "ref=homepage")
	assert.NotContains(t, canonical, "utm_campaign")
}

func TestCanonicalizeURL_RegistrableDomainDropsSubdomain(t *testing.T) {
	_, domain, err := CanonicalizeURL("https://news.example.co.uk/story")
	require.NoError(t, err)
	assert.Equal(t, "example.co.uk", domain)
}

func TestDetectLanguage_EmptyIsUndetermined(t *testing.T) {
	assert.Equal(t, "und", DetectLanguage(""))
	assert.Equal(t, "und", DetectLanguage("   "))
}

func TestContentHash_DeterministicAndWindowed(t *testing.T) {
	h1 := ContentHash("en", "example.com", "hello world")
	h2 := ContentHash("en", "example.com", "hello world")
	assert.Equal(t, h1, h2)

	longText := make([]byte, 20000)
	for i := range longText {
		longText[i] = 'a'
	}
	h3 := ContentHash("en", "example.com", string(longText))
	h4 := ContentHash("en", "example.com", string(longText)+"extra tail content that falls outside the 10k window")
	assert.Equal(t, h3, h4, "mutating text beyond the 10000-byte window must not change the hash")
}

func TestContentHash_ChangesWithLanguageOrDomain(t *testing.T) {
	base := ContentHash("en", "example.com", "hello world")
	diffLang := ContentHash("fr", "example.com", "hello world")
	diffDomain := ContentHash("en", "other.com", "hello world")
	assert.NotEqual(t, base, diffLang)
	assert.NotEqual(t, base, diffDomain)
}

func TestReadingTimeMinutes_Clamping(t *testing.T) {
	assert.Equal(t, 1, ReadingTimeMinutes(0))
	assert.Equal(t, 1, ReadingTimeMinutes(200))
	assert.Equal(t, 2, ReadingTimeMinutes(201))
	assert.Equal(t, 60, ReadingTimeMinutes(100000))
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 2, WordCount("hello world"))
	assert.Equal(t, 0, WordCount("   "))
}
