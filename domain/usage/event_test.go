package usage_test

import (
	"testing"
	"time"

	"github.com/artpar/creditgate/domain/usage"
)

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []usage.Event{
		{ModelID: "gpt-4", CreditsUsed: 5, TokensUsed: 900, CreatedAt: base.Add(2 * time.Minute)},
		{ModelID: "gpt-3.5-turbo", CreditsUsed: 1, TokensUsed: 300, CreatedAt: base},
		{ModelID: "gpt-4", CreditsUsed: 5, TokensUsed: 100, CreatedAt: base.Add(time.Minute)},
	}

	s := usage.Summarize("user_1", events)

	if s.Invocations != 3 {
		t.Errorf("Invocations = %d, want 3", s.Invocations)
	}
	if s.CreditsUsed != 11 {
		t.Errorf("CreditsUsed = %d, want 11", s.CreditsUsed)
	}
	if s.TokensUsed != 1300 {
		t.Errorf("TokensUsed = %d, want 1300", s.TokensUsed)
	}
	if !s.First.Equal(base) || !s.Last.Equal(base.Add(2*time.Minute)) {
		t.Errorf("First/Last = %v/%v", s.First, s.Last)
	}
	if len(s.ByModel) != 2 {
		t.Fatalf("ByModel len = %d, want 2", len(s.ByModel))
	}
	if s.ByModel[0].ModelID != "gpt-4" || s.ByModel[0].Invocations != 2 || s.ByModel[0].CreditsUsed != 10 {
		t.Errorf("ByModel[0] = %+v", s.ByModel[0])
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := usage.Summarize("user_1", nil)
	if s.Invocations != 0 || len(s.ByModel) != 0 || !s.First.IsZero() {
		t.Errorf("unexpected summary for no events: %+v", s)
	}
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, 50},
		{-3, 50},
		{10, 10},
		{500, 500},
		{501, 500},
	}
	for _, tt := range tests {
		if got := usage.ClampLimit(tt.in, 50, 500); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
