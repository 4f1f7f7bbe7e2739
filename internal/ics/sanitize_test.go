package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfeed/internal/model"
)

func newTestSanitizer() *Sanitizer {
	return &Sanitizer{Clock: FixedClock(testNow), Location: time.UTC}
}

func TestSanitize_MissingStartIsSkipped(t *testing.T) {
	res := newTestSanitizer().Sanitize(model.RawEvent{ID: "a", Title: "No start"})
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipMissingStart, res.Reason)
}

func TestSanitize_EndDerivation(t *testing.T) {
	start := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		raw       model.RawEvent
		wantEnd   time.Time
		wantFalls []string
	}{
		{
			name:    "no end defaults to one hour",
			raw:     model.RawEvent{ID: "a", StartDate: model.WrappedTime(start)},
			wantEnd: start.Add(time.Hour),
		},
		{
			name:    "explicit end kept",
			raw:     model.RawEvent{ID: "a", StartDate: model.WrappedTime(start), EndDate: model.WrappedTime(start.Add(90 * time.Minute))},
			wantEnd: start.Add(90 * time.Minute),
		},
		{
			name:      "end before start is overridden",
			raw:       model.RawEvent{ID: "a", StartDate: model.WrappedTime(start), EndDate: model.Text("2025-02-01T09:00:00Z")},
			wantEnd:   start.Add(time.Hour),
			wantFalls: []string{"endDate"},
		},
		{
			name:      "end equal to start is overridden",
			raw:       model.RawEvent{ID: "a", StartDate: model.WrappedTime(start), EndDate: model.WrappedTime(start)},
			wantEnd:   start.Add(time.Hour),
			wantFalls: []string{"endDate"},
		},
		{
			name:      "unparsable end falls back to one hour",
			raw:       model.RawEvent{ID: "a", StartDate: model.WrappedTime(start), EndDate: model.Text("???")},
			wantEnd:   start.Add(time.Hour),
			wantFalls: []string{"endDate"},
		},
		{
			name:    "all-day without end ends at start",
			raw:     model.RawEvent{ID: "a", StartDate: model.WrappedTime(start), AllDay: true},
			wantEnd: start,
		},
		{
			name:    "all-day keeps an earlier end",
			raw:     model.RawEvent{ID: "a", StartDate: model.WrappedTime(start), EndDate: model.WrappedTime(start.Add(-time.Hour)), AllDay: true},
			wantEnd: start.Add(-time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestSanitizer().Sanitize(tt.raw)
			require.False(t, res.Skipped)
			assert.True(t, tt.wantEnd.Equal(res.Event.End), "want %s, got %s", tt.wantEnd, res.Event.End)
			assert.Equal(t, tt.wantFalls, res.Fallbacks)
			if !tt.raw.AllDay {
				assert.True(t, res.Event.End.After(res.Event.Start))
			}
		})
	}
}

func TestSanitize_UnparsableStartUsesNow(t *testing.T) {
	res := newTestSanitizer().Sanitize(model.RawEvent{ID: "a", StartDate: model.Text("???")})
	require.False(t, res.Skipped)
	assert.True(t, testNow.Equal(res.Event.Start))
	assert.True(t, testNow.Add(time.Hour).Equal(res.Event.End))
	assert.Contains(t, res.Fallbacks, "startDate")
}

func TestSanitize_CreatedAndUpdatedFallbacks(t *testing.T) {
	created := time.Date(2024, 12, 24, 8, 0, 0, 0, time.UTC)
	start := model.WrappedTime(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	t.Run("missing both", func(t *testing.T) {
		res := newTestSanitizer().Sanitize(model.RawEvent{ID: "a", StartDate: start})
		assert.True(t, testNow.Equal(res.Event.Created))
		assert.True(t, testNow.Equal(res.Event.Updated))
		assert.Empty(t, res.Fallbacks)
	})

	t.Run("updated degrades to created", func(t *testing.T) {
		res := newTestSanitizer().Sanitize(model.RawEvent{
			ID:        "a",
			StartDate: start,
			CreatedAt: model.WrappedTime(created),
			UpdatedAt: model.Text("???"),
		})
		assert.True(t, created.Equal(res.Event.Created))
		assert.True(t, created.Equal(res.Event.Updated))
		assert.Equal(t, []string{"updatedAt"}, res.Fallbacks)
	})

	t.Run("both present", func(t *testing.T) {
		updated := created.Add(48 * time.Hour)
		res := newTestSanitizer().Sanitize(model.RawEvent{
			ID:        "a",
			StartDate: start,
			CreatedAt: model.Millis(float64(created.UnixMilli())),
			UpdatedAt: model.Text(updated.Format(time.RFC3339)),
		})
		assert.True(t, created.Equal(res.Event.Created))
		assert.True(t, updated.Equal(res.Event.Updated))
	})
}

func TestSanitize_GeneratesIdentifierFromClock(t *testing.T) {
	s := newTestSanitizer()
	raw := model.RawEvent{StartDate: model.Text("2025-02-01")}

	first := s.Sanitize(raw).Event.ID
	second := s.Sanitize(raw).Event.ID
	require.NotEmpty(t, first)
	assert.NotEqual(t, first, second)

	id, err := ulid.ParseStrict(strings.ToUpper(first))
	require.NoError(t, err)
	assert.Equal(t, testNow.UnixMilli(), ulid.Time(id.Time()).UnixMilli())
}

func TestSanitize_TextFields(t *testing.T) {
	start := model.Text("2025-02-01T10:00:00Z")

	tests := []struct {
		name      string
		title     string
		desc      string
		wantTitle string
		wantDesc  string
	}{
		{name: "defaults title", title: "", desc: "", wantTitle: DefaultTitle, wantDesc: ""},
		{name: "whitespace title", title: "   ", desc: "x", wantTitle: DefaultTitle, wantDesc: "x"},
		{name: "strips markup", title: "<b>Launch</b> day", desc: "<p>Tom &amp; Jerry</p>", wantTitle: "Launch day", wantDesc: "Tom & Jerry"},
		{name: "markup only title", title: "<img src=x>", desc: "", wantTitle: DefaultTitle, wantDesc: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newTestSanitizer().Sanitize(model.RawEvent{ID: "a", Title: tt.title, Description: tt.desc, StartDate: start})
			assert.Equal(t, tt.wantTitle, res.Event.Title)
			assert.Equal(t, tt.wantDesc, res.Event.Description)
		})
	}
}

func TestSanitize_Recurrence(t *testing.T) {
	start := model.Text("2025-02-01T10:00:00Z")

	res := newTestSanitizer().Sanitize(model.RawEvent{ID: "a", StartDate: start, Recurrence: "RRULE:FREQ=WEEKLY;BYDAY=MO"})
	assert.Equal(t, "FREQ=WEEKLY;BYDAY=MO", res.Event.Recurrence)
	assert.Empty(t, res.Fallbacks)

	res = newTestSanitizer().Sanitize(model.RawEvent{ID: "a", StartDate: start, Recurrence: "FREQ=SOMETIMES"})
	assert.Empty(t, res.Event.Recurrence)
	assert.Equal(t, []string{"recurrence"}, res.Fallbacks)
}

func TestSanitize_KeepsSourceTagAndIdentifier(t *testing.T) {
	res := newTestSanitizer().Sanitize(model.RawEvent{ID: "  evt-9 ", Source: " google ", StartDate: model.Text("2025-02-01")})
	assert.Equal(t, "evt-9", res.Event.ID)
	assert.Equal(t, "google", res.Event.CategoryTag)
}
