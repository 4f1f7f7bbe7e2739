package ics

import (
	"fmt"
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"github.com/teambition/rrule-go"

	appLog "calfeed/internal/log"
	"calfeed/internal/model"
)

const (
	DefaultTitle    = "Untitled Event"
	defaultDuration = time.Hour
)

// SkipReason explains why an event was left out of a document.
type SkipReason string

const (
	SkipMissingStart    SkipReason = "missing start"
	SkipCoercionFailure SkipReason = "coercion failure"
	SkipMappingFailure  SkipReason = "mapping failure"
)

// SanitizeResult is either a sanitized event or a skip.
type SanitizeResult struct {
	Event   model.SanitizedEvent
	Skipped bool
	Reason  SkipReason
	Detail  string
	// Fallbacks names the fields whose stored value was unusable and got
	// replaced. Diagnostic only.
	Fallbacks []string
}

var plainText = bluemonday.StrictPolicy()

// Sanitizer normalizes raw records into SanitizedEvents.
type Sanitizer struct {
	Clock    Clock
	Location *time.Location
	// Entropy feeds generated identifiers. Nil uses ulid.DefaultEntropy.
	Entropy io.Reader
}

// Sanitize resolves raw against the sanitizer's clock.
func (s *Sanitizer) Sanitize(raw model.RawEvent) SanitizeResult {
	clock := s.Clock
	if clock == nil {
		clock = SystemClock
	}
	return s.SanitizeAt(raw, clock.Now())
}

// SanitizeAt resolves raw with now as the reference instant for every
// time-dependent fallback. It never panics; a failure inside coercion
// turns into a skip.
func (s *Sanitizer) SanitizeAt(raw model.RawEvent, now time.Time) (res SanitizeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = SanitizeResult{Skipped: true, Reason: SkipCoercionFailure, Detail: fmt.Sprint(r)}
		}
	}()

	if raw.StartDate.IsMissing() {
		return SanitizeResult{Skipped: true, Reason: SkipMissingStart}
	}

	loc := s.location()
	now = now.In(loc)
	c := coercer{loc: loc, now: now}

	var fallbacks []string
	coerce := func(field string, v model.DateValue, fallback time.Time) time.Time {
		t, used := c.instant(v, fallback)
		if used && !v.IsMissing() {
			fallbacks = append(fallbacks, field)
		}
		return t
	}

	start := coerce("startDate", raw.StartDate, now)

	var end time.Time
	switch {
	case !raw.EndDate.IsMissing():
		end = coerce("endDate", raw.EndDate, start.Add(defaultDuration))
		if !raw.AllDay && !end.After(start) {
			end = start.Add(defaultDuration)
			fallbacks = append(fallbacks, "endDate")
		}
	case raw.AllDay:
		end = start
	default:
		end = start.Add(defaultDuration)
	}

	created := coerce("createdAt", raw.CreatedAt, now)
	updated := coerce("updatedAt", raw.UpdatedAt, created)

	recurrence, ok := checkRecurrence(raw.Recurrence)
	if !ok {
		fallbacks = append(fallbacks, "recurrence")
	}

	title := cleanText(raw.Title)
	if title == "" {
		title = DefaultTitle
	}

	ev := model.SanitizedEvent{
		ID:          s.identifier(raw.ID, now),
		Title:       title,
		Description: cleanText(raw.Description),
		Start:       start,
		End:         end,
		Created:     created,
		Updated:     updated,
		AllDay:      raw.AllDay,
		CategoryTag: strings.TrimSpace(raw.Source),
		Recurrence:  recurrence,
	}

	if len(fallbacks) > 0 {
		appLog.Debug("event fields fell back", "id", ev.ID, "fields", strings.Join(fallbacks, ","))
	}
	return SanitizeResult{Event: ev, Fallbacks: fallbacks}
}

func (s *Sanitizer) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// identifier keeps a stored id or mints a ULID from now plus random entropy.
func (s *Sanitizer) identifier(raw string, now time.Time) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	entropy := s.Entropy
	if entropy == nil {
		entropy = ulid.DefaultEntropy()
	}
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return fmt.Sprintf("evt-%d", now.UnixNano())
	}
	return strings.ToLower(id.String())
}

// cleanText strips markup, leaving plain text with entities decoded.
func cleanText(s string) string {
	if s == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(plainText.Sanitize(s)))
}

// checkRecurrence accepts an RRULE value (with or without the "RRULE:"
// prefix). The second result is false when a non-empty rule was rejected.
func checkRecurrence(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", true
	}
	s = strings.TrimPrefix(s, "RRULE:")
	if _, err := rrule.StrToRRule(s); err != nil {
		return "", false
	}
	return s, true
}
