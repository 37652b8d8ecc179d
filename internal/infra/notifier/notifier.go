// Package notifier provides abstraction for sending notifications about articles.
// It defines the Notifier interface which allows different notification mechanisms
// (Discord, Slack, email, etc.) to be used interchangeably through dependency injection.
//
// The package includes implementations for Discord webhooks and a no-op notifier
// for when notifications are disabled.
package notifier

import (
	"context"

	"github.com/tsuchiya2/storypipe/internal/domain/entity"
)

// Notifier is an interface for sending story notifications.
// Implementations should handle rate limiting, retries, and error logging internally.
type Notifier interface {
	// NotifyStory sends a notification about a newly discovered story.
	// The notification should include story metadata (title, URL, domain) and source information.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - story: The story to notify about (must not be nil)
	//   - source: The feed source of the story (must not be nil)
	//
	// Returns:
	//   - error: Non-nil if the notification failed after all retry attempts
	//
	// Implementations should:
	//   - Generate a unique request ID for tracing
	//   - Apply rate limiting to prevent API abuse
	//   - Retry transient failures with exponential backoff
	//   - Log all attempts with the request ID for debugging
	//   - Respect context cancellation
	NotifyStory(ctx context.Context, story *entity.Story, source *entity.Source) error
}
