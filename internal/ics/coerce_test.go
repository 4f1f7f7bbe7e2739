package ics

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"google.golang.org/protobuf/types/known/timestamppb"

	"calfeed/internal/model"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func TestCoercerInstant(t *testing.T) {
	c := coercer{loc: time.UTC, now: testNow}
	fallback := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		value        model.DateValue
		want         time.Time
		wantFallback bool
	}{
		{
			name:  "wrapped timestamp",
			value: model.WrappedTime(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)),
			want:  time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		},
		{
			name:         "wrapped nil",
			value:        model.Wrapped(nil),
			want:         fallback,
			wantFallback: true,
		},
		{
			name:         "wrapped out of range nanos",
			value:        model.Wrapped(&timestamppb.Timestamp{Seconds: 1, Nanos: -5}),
			want:         fallback,
			wantFallback: true,
		},
		{
			name:  "epoch millis",
			value: model.Millis(1735722000000),
			want:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			name:         "NaN millis",
			value:        model.Millis(math.NaN()),
			want:         fallback,
			wantFallback: true,
		},
		{
			name:         "millis beyond date range",
			value:        model.Millis(9e15),
			want:         fallback,
			wantFallback: true,
		},
		{
			name:  "RFC3339 with offset",
			value: model.Text("2025-01-01T18:00:00+09:00"),
			want:  time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		},
		{
			name:  "naive local datetime",
			value: model.Text("2025-06-01T08:15"),
			want:  time.Date(2025, 6, 1, 8, 15, 0, 0, time.UTC),
		},
		{
			name:  "date only",
			value: model.Text(" 2025-06-01 "),
			want:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:         "empty text",
			value:        model.Text("   "),
			want:         fallback,
			wantFallback: true,
		},
		{
			name:         "garbage text",
			value:        model.Text("???"),
			want:         fallback,
			wantFallback: true,
		},
		{
			name:         "missing",
			value:        model.Missing(),
			want:         fallback,
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, usedFallback := c.instant(tt.value, fallback)
			assert.Equal(t, tt.wantFallback, usedFallback)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestCoercerInstant_ReadsNaiveTextInLocation(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skip("zone database unavailable")
	}
	c := coercer{loc: seoul, now: testNow}

	got, usedFallback := c.instant(model.Text("2025-06-01T09:00:00"), testNow)
	assert.False(t, usedFallback)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), got.UTC())
	assert.Equal(t, seoul, got.Location())
}

func TestCoercerInstant_FreeFormText(t *testing.T) {
	c := coercer{loc: time.UTC, now: testNow}

	got, usedFallback := c.instant(model.Text("5 March 2025 10:00"), testNow)
	assert.False(t, usedFallback)
	assert.Equal(t, 2025, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 5, got.Day())
	assert.Equal(t, 10, got.Hour())
}
