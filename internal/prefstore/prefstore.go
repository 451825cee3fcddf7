// Package prefstore persists per-user enhancement preferences and feedback.
//
// Three backends are provided: a JSON file guarded by a cross-process lock
// for single-device use, PostgreSQL for shared deployments, and a Redis
// cache tier that fronts either of them.
package prefstore

import (
	"context"
	"errors"

	"github.com/prethora/glowly"
)

// ErrStorage wraps filesystem and database failures.
var ErrStorage = errors.New("prefstore: storage error")

// MaxFeedbackHistory bounds how many feedback events are kept per user by
// the file store and returned by Feedback.
const MaxFeedbackHistory = 200

// Store is a glowly.PreferenceStore that also manages explicit preference
// weights and exposes the feedback history.
type Store interface {
	glowly.PreferenceStore

	// SetPreferences replaces the user's explicit weights.
	SetPreferences(ctx context.Context, userID string, prefs glowly.Preferences) error

	// Feedback returns up to limit events for the user, newest first.
	Feedback(ctx context.Context, userID string, limit int) ([]glowly.FeedbackEvent, error)

	Close() error
}

// validWeights drops entries for unknown enhancement types and
// non-positive weights.
func validWeights(prefs glowly.Preferences) glowly.Preferences {
	out := make(glowly.Preferences, len(prefs))
	for t, w := range prefs {
		if _, err := glowly.ParseEnhancementType(string(t)); err != nil || w <= 0 {
			continue
		}
		out[t] = w
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxFeedbackHistory {
		return MaxFeedbackHistory
	}
	return limit
}
