package task

import (
	"strings"

	"alex/internal/apperr"
)

const (
	MinTitleLen = 3
	MaxTitleLen = 500
)

// ValidateDraft enforces the invariants spec.md §4.3 states for Create:
// title length in [3,500], repository non-empty.
func ValidateDraft(d Draft) error {
	title := strings.TrimSpace(d.Title)
	if len(title) < MinTitleLen || len(title) > MaxTitleLen {
		return apperr.NewValidation("title", "title length must be between %d and %d chars, got %d", MinTitleLen, MaxTitleLen, len(title))
	}
	if strings.TrimSpace(d.Repository) == "" {
		return apperr.NewValidation("repository", "repository must not be empty")
	}
	return nil
}
