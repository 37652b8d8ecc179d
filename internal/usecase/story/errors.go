// Package story provides the read-only use case behind the story detail
// endpoint: stories are written by the discovery/scraper pipeline, not by
// this API, so the surface here is deliberately narrow.
package story

import "errors"

// ErrInvalidStoryID indicates an empty or malformed story identifier.
var ErrInvalidStoryID = errors.New("invalid story id")

// ErrStoryNotFound indicates the requested story does not exist.
var ErrStoryNotFound = errors.New("story not found")
