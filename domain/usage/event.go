// Package usage provides credit usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import (
	"sort"
	"time"
)

// DefaultRequestType is recorded when the caller does not name one.
const DefaultRequestType = "chat"

// Event records one credit deduction (immutable, append-only).
type Event struct {
	ID          string
	UserID      string
	ModelID     string
	CreditsUsed int64 // cost looked up at time of use
	TokensUsed  int64 // informational
	RequestType string
	CreatedAt   time.Time
}

// ModelSummary aggregates usage for a single model.
type ModelSummary struct {
	ModelID     string
	Invocations int64
	CreditsUsed int64
	TokensUsed  int64
}

// Summary aggregates a set of usage events.
type Summary struct {
	UserID      string
	Invocations int64
	CreditsUsed int64
	TokensUsed  int64
	First       time.Time
	Last        time.Time
	ByModel     []ModelSummary // sorted by credits used, descending
}

// Summarize aggregates events for a user.
// This is a PURE function.
func Summarize(userID string, events []Event) Summary {
	s := Summary{UserID: userID}
	byModel := make(map[string]*ModelSummary)

	for _, e := range events {
		s.Invocations++
		s.CreditsUsed += e.CreditsUsed
		s.TokensUsed += e.TokensUsed

		if s.First.IsZero() || e.CreatedAt.Before(s.First) {
			s.First = e.CreatedAt
		}
		if e.CreatedAt.After(s.Last) {
			s.Last = e.CreatedAt
		}

		m, ok := byModel[e.ModelID]
		if !ok {
			m = &ModelSummary{ModelID: e.ModelID}
			byModel[e.ModelID] = m
		}
		m.Invocations++
		m.CreditsUsed += e.CreditsUsed
		m.TokensUsed += e.TokensUsed
	}

	for _, m := range byModel {
		s.ByModel = append(s.ByModel, *m)
	}
	sort.Slice(s.ByModel, func(i, j int) bool {
		if s.ByModel[i].CreditsUsed != s.ByModel[j].CreditsUsed {
			return s.ByModel[i].CreditsUsed > s.ByModel[j].CreditsUsed
		}
		return s.ByModel[i].ModelID < s.ByModel[j].ModelID
	})

	return s
}

// ClampLimit bounds a history page size. Non-positive means def.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
