package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt(t *testing.T) {
	date := time.Date(2026, time.October, 19, 15, 4, 5, 0, time.UTC)

	t.Run("embeds rendered date", func(t *testing.T) {
		out := BuildSystemPrompt(date)
		assert.Contains(t, out, "Today's date is October 19, 2026.")
	})

	t.Run("deterministic for the same date", func(t *testing.T) {
		assert.Equal(t, BuildSystemPrompt(date), BuildSystemPrompt(date))
	})

	t.Run("time of day does not change output", func(t *testing.T) {
		later := time.Date(2026, time.October, 19, 23, 59, 0, 0, time.UTC)
		assert.Equal(t, BuildSystemPrompt(date), BuildSystemPrompt(later))
	})

	t.Run("different dates differ", func(t *testing.T) {
		assert.NotEqual(t, BuildSystemPrompt(date), BuildSystemPrompt(date.AddDate(0, 0, 1)))
	})

	t.Run("carries persona and format rules", func(t *testing.T) {
		out := BuildSystemPrompt(date)
		assert.True(t, strings.HasPrefix(out, "You are an expert AI Writing Assistant."))
		assert.Contains(t, out, `"Here are the changes:"`)
		assert.Contains(t, out, "Use clear formatting with markdown.")
	})
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		name     string
		date     time.Time
		expected string
	}{
		{"single digit day", time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC), "March 5, 2024"},
		{"end of year", time.Date(1999, time.December, 31, 0, 0, 0, 0, time.UTC), "December 31, 1999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDate(tt.date))
		})
	}
}
