// Package filter selects sessions for listing.
package filter

import (
	"path/filepath"
	"time"

	"github.com/dyluth/foundry/pkg/blackboard"
)

// Criteria defines filtering criteria for sessions.
// All filters are ANDed together - a session must match ALL criteria to pass.
type Criteria struct {
	Since      time.Time         // Created at or after, zero = no filter
	Until      time.Time         // Created at or before, zero = no filter
	Status     blackboard.Status // Exact status match, empty = no filter
	Halted     bool              // Only sessions waiting for a human
	IntentGlob string            // Glob pattern over the user intent, empty = no filter
}

// Matches returns true if the session matches all filter criteria.
// A nil Criteria matches everything.
func (c *Criteria) Matches(s *blackboard.State) bool {
	if c == nil {
		return true
	}

	if !c.Since.IsZero() && s.CreatedAt.Before(c.Since) {
		return false
	}
	if !c.Until.IsZero() && s.CreatedAt.After(c.Until) {
		return false
	}

	if c.Status != "" && s.Status != c.Status {
		return false
	}
	if c.Halted && !s.Halted {
		return false
	}

	if c.IntentGlob != "" {
		matched, err := filepath.Match(c.IntentGlob, s.UserIntent)
		if err != nil || !matched {
			return false
		}
	}

	return true
}

// HasFilters returns true if any filters are active.
func (c *Criteria) HasFilters() bool {
	return c != nil && (!c.Since.IsZero() ||
		!c.Until.IsZero() ||
		c.Status != "" ||
		c.Halted ||
		c.IntentGlob != "")
}
