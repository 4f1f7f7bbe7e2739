package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"calfeed/internal/model"
)

// ErrEncode reports a mapped event whose fields cannot form a valid VEVENT.
var ErrEncode = errors.New("ics: cannot encode event")

// Assembler folds mapped events into one VCALENDAR document.
type Assembler struct {
	ProductID    string
	CalendarName string
	Location     *time.Location
}

// Assemble serializes events in the given order, stamping each with stamp.
// On error the returned body is the header-only document, so callers
// always have something parseable to send.
func (a *Assembler) Assemble(events []model.MappedEvent, stamp time.Time) ([]byte, error) {
	cal := a.header()

	for i, ev := range events {
		if err := a.validate(ev); err != nil {
			return a.Empty(), fmt.Errorf("event %d (%s): %w", i, ev.UID, err)
		}
		a.addEvent(cal, ev, stamp)
	}

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf, ical.WithNewLineWindows); err != nil {
		return a.Empty(), fmt.Errorf("%w: serialize: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Empty returns the header-only document.
func (a *Assembler) Empty() []byte {
	var buf bytes.Buffer
	if err := a.header().SerializeTo(&buf, ical.WithNewLineWindows); err != nil {
		return []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:" + a.productID() + "\r\nEND:VCALENDAR\r\n")
	}
	return buf.Bytes()
}

func (a *Assembler) header() *ical.Calendar {
	cal := ical.NewCalendarFor("calfeed")
	cal.SetProductId(a.productID())
	cal.SetCalscale("GREGORIAN")
	cal.SetMethod(ical.MethodPublish)
	if a.CalendarName != "" {
		cal.SetXWRCalName(a.CalendarName)
	}
	return cal
}

func (a *Assembler) productID() string {
	if a.ProductID == "" {
		return "-//calfeed//Calendar Export//EN"
	}
	return a.ProductID
}

func (a *Assembler) location() *time.Location {
	if a.Location == nil {
		return time.UTC
	}
	return a.Location
}

// addEvent writes properties in a fixed order: UID, DTSTAMP, SUMMARY,
// DESCRIPTION, DTSTART, DTEND or DURATION, CREATED, LAST-MODIFIED,
// CATEGORIES, STATUS, RRULE.
func (a *Assembler) addEvent(cal *ical.Calendar, ev model.MappedEvent, stamp time.Time) {
	loc := a.location()

	e := cal.AddEvent(ev.UID)
	e.SetDtStampTime(stamp.UTC())
	e.SetSummary(ev.Title)
	e.SetDescription(ev.Description)

	if ev.AllDay {
		e.SetAllDayStartAt(time.Date(ev.Start.Year, time.Month(ev.Start.Month), ev.Start.Day, 0, 0, 0, 0, time.UTC))
		e.SetProperty(ical.ComponentPropertyDuration, FormatDuration(ev.Duration))
	} else {
		e.SetStartAt(ev.Start.Instant(loc))
		e.SetEndAt(ev.End.Instant(loc))
	}

	e.SetCreatedTime(ev.Created.Instant(loc))
	e.SetModifiedAt(ev.LastModified.Instant(loc))
	e.SetProperty(ical.ComponentPropertyCategories, ev.Category)
	e.SetStatus(ical.ObjectStatusConfirmed)
	if ev.RRule != "" {
		e.AddRrule(ev.RRule)
	}
}

func (a *Assembler) validate(ev model.MappedEvent) error {
	loc := a.location()
	switch {
	case strings.TrimSpace(ev.UID) == "":
		return fmt.Errorf("%w: missing UID", ErrEncode)
	case !validPoint(ev.Start, loc), !validPoint(ev.Created, loc), !validPoint(ev.LastModified, loc):
		return fmt.Errorf("%w: invalid date", ErrEncode)
	case ev.AllDay && ev.End != nil:
		return fmt.Errorf("%w: all-day event with explicit end", ErrEncode)
	case ev.AllDay && ev.Duration.TotalSeconds() <= 0:
		return fmt.Errorf("%w: all-day event without duration", ErrEncode)
	case !ev.AllDay && ev.End == nil:
		return fmt.Errorf("%w: timed event without end", ErrEncode)
	case !ev.AllDay && !validPoint(*ev.End, loc):
		return fmt.Errorf("%w: invalid end", ErrEncode)
	case !ev.AllDay && !ev.End.Instant(loc).After(ev.Start.Instant(loc)):
		return fmt.Errorf("%w: end not after start", ErrEncode)
	}
	return nil
}

// validPoint rejects points that time.Date would silently normalize,
// such as February 30th.
func validPoint(p model.DateTime, loc *time.Location) bool {
	if p.Year < 1 || p.Year > 9999 || p.Month < 1 || p.Month > 12 ||
		p.Hour < 0 || p.Hour > 23 || p.Minute < 0 || p.Minute > 59 || p.Day < 1 {
		return false
	}
	t := time.Date(p.Year, time.Month(p.Month), p.Day, 0, 0, 0, 0, loc)
	return t.Day() == p.Day && int(t.Month()) == p.Month
}

// FormatDuration renders d as an RFC 5545 duration. Whole weeks use the
// week form; anything else is folded into days and time.
func FormatDuration(d model.Duration) string {
	if d.Weeks > 0 && d.Days == 0 && d.Hours == 0 && d.Minutes == 0 && d.Seconds == 0 {
		return "P" + strconv.Itoa(d.Weeks) + "W"
	}

	var b strings.Builder
	b.WriteString("P")
	if days := d.Weeks*7 + d.Days; days > 0 {
		b.WriteString(strconv.Itoa(days) + "D")
	}
	if d.Hours > 0 || d.Minutes > 0 || d.Seconds > 0 {
		b.WriteString("T")
		if d.Hours > 0 {
			b.WriteString(strconv.Itoa(d.Hours) + "H")
		}
		if d.Minutes > 0 {
			b.WriteString(strconv.Itoa(d.Minutes) + "M")
		}
		if d.Seconds > 0 {
			b.WriteString(strconv.Itoa(d.Seconds) + "S")
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}
