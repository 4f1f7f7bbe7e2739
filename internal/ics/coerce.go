package ics

import (
	"math"
	"strings"
	"time"

	dps "github.com/markusmobius/go-dateparser"

	"calfeed/internal/model"
)

// maxDateMillis is the largest epoch offset, in either direction, that a
// numeric date may carry.
const maxDateMillis = 8.64e15

// Layouts tried before falling back to the free-form parser. Layouts
// without a zone are read in the coercer's location.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC1123Z,
		time.RFC1123,
		"20060102T150405Z",
	}
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"20060102T150405",
		"20060102",
	}
)

// coercer turns a DateValue into an instant. It never fails: an absent,
// unparsable or out-of-range value yields the fallback.
type coercer struct {
	loc *time.Location
	now time.Time
}

// instant reports the resolved time and whether the fallback was used.
func (c coercer) instant(v model.DateValue, fallback time.Time) (time.Time, bool) {
	var (
		t  time.Time
		ok bool
	)

	switch v.Kind {
	case model.DateWrapped:
		t, ok = c.fromWrapped(v)
	case model.DateNumeric:
		t, ok = c.fromMillis(v.Number)
	case model.DateText:
		t, ok = c.fromText(v.Text)
	}

	if !ok || !representable(t) {
		return fallback, true
	}
	return t.In(c.loc), false
}

func (c coercer) fromWrapped(v model.DateValue) (time.Time, bool) {
	if v.Wrapped == nil || v.Wrapped.CheckValid() != nil {
		return time.Time{}, false
	}
	return v.Wrapped.AsTime(), true
}

// fromMillis reads n as epoch milliseconds, truncated toward zero.
func (c coercer) fromMillis(n float64) (time.Time, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) > maxDateMillis {
		return time.Time{}, false
	}
	return time.UnixMilli(int64(n)), true
}

func (c coercer) fromText(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, c.loc); err == nil {
			return t, true
		}
	}

	cfg := &dps.Configuration{
		CurrentTime:      c.now,
		DefaultTimezone:  c.loc,
		DefaultLanguages: []string{"en"},
	}
	dt, err := dps.Parse(cfg, s)
	if err != nil || dt.Time.IsZero() {
		return time.Time{}, false
	}
	return dt.Time, true
}

// representable limits instants to the four-digit years iCalendar can carry.
func representable(t time.Time) bool {
	y := t.Year()
	return !t.IsZero() && y >= 1 && y <= 9999
}
