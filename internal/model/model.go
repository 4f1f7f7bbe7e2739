package model

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// DateKind tags which variant a DateValue carries.
type DateKind int

const (
	DateMissing DateKind = iota
	DateWrapped
	DateText
	DateNumeric
)

func (k DateKind) String() string {
	switch k {
	case DateWrapped:
		return "wrapped"
	case DateText:
		return "text"
	case DateNumeric:
		return "numeric"
	default:
		return "missing"
	}
}

// DateValue is a date as it arrived from storage: a timestamp wrapper,
// a string, an epoch-milliseconds number, or nothing at all.
type DateValue struct {
	Kind    DateKind
	Wrapped *timestamppb.Timestamp
	Text    string
	Number  float64
}

func Missing() DateValue { return DateValue{} }

func Text(s string) DateValue { return DateValue{Kind: DateText, Text: s} }

// Millis is an epoch-milliseconds date.
func Millis(ms float64) DateValue { return DateValue{Kind: DateNumeric, Number: ms} }

func Wrapped(ts *timestamppb.Timestamp) DateValue { return DateValue{Kind: DateWrapped, Wrapped: ts} }

// WrappedTime wraps t the way a document store timestamp would.
func WrappedTime(t time.Time) DateValue { return Wrapped(timestamppb.New(t)) }

func (d DateValue) IsMissing() bool { return d.Kind == DateMissing }

// RawEvent is one stored calendar event record, read-only input to the compiler.
type RawEvent struct {
	ID          string
	OwnerID     string
	Title       string
	Description string
	StartDate   DateValue
	EndDate     DateValue
	AllDay      bool
	CreatedAt   DateValue
	UpdatedAt   DateValue
	Source      string
	// Recurrence is an RRULE value carried through unexpanded.
	Recurrence string
}

// SanitizedEvent is a RawEvent with every temporal and textual field resolved.
type SanitizedEvent struct {
	ID          string
	Title       string
	Description string

	Start   time.Time
	End     time.Time
	Created time.Time
	Updated time.Time

	AllDay      bool
	CategoryTag string
	Recurrence  string
}

// DateTime is a wall-clock point at minute resolution. Month is 1-indexed.
// Points built with PointAt also remember the instant they were read from,
// so wall times repeated by a DST change still resolve to the right one.
type DateTime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int

	at time.Time
}

// PointAt reads t's wall clock in its own location.
func PointAt(t time.Time) DateTime {
	return DateTime{
		Year:   t.Year(),
		Month:  int(t.Month()),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		at:     t,
	}
}

// Instant returns the instant the point was read from, or the wall clock
// resolved in loc for points built field by field.
func (p DateTime) Instant(loc *time.Location) time.Time {
	if !p.at.IsZero() {
		return p.at
	}
	return time.Date(p.Year, time.Month(p.Month), p.Day, p.Hour, p.Minute, 0, 0, loc)
}

func (p DateTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", p.Year, p.Month, p.Day, p.Hour, p.Minute)
}

// Duration is a span split into units, largest first. Each unit only
// holds what does not fit in the next larger one.
type Duration struct {
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// TotalSeconds sums the duration back into seconds.
func (d Duration) TotalSeconds() int64 {
	return int64(d.Weeks)*7*24*60*60 +
		int64(d.Days)*24*60*60 +
		int64(d.Hours)*60*60 +
		int64(d.Minutes)*60 +
		int64(d.Seconds)
}

const EndKindLocal = "local"

const StatusConfirmed = "CONFIRMED"

// MappedEvent is the serialization-ready form of one SanitizedEvent.
type MappedEvent struct {
	UID         string
	Title       string
	Description string

	AllDay bool
	Start  DateTime
	// End is nil for all-day events, which are expressed by Duration alone.
	End      *DateTime
	EndKind  string
	Duration Duration

	Created      DateTime
	LastModified DateTime

	Category  string
	Status    string
	ProductID string
	RRule     string
}
