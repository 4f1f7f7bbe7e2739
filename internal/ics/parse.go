package ics

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calfeed/internal/log"
	"calfeed/internal/model"
)

// importedEvent is the stored document shape produced from a VEVENT.
type importedEvent struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	StartDate   model.DateValue `json:"startDate"`
	EndDate     model.DateValue `json:"endDate"`
	AllDay      bool            `json:"allDay,omitempty"`
	CreatedAt   model.DateValue `json:"createdAt"`
	UpdatedAt   model.DateValue `json:"updatedAt"`
	Recurrence  string          `json:"recurrence,omitempty"`
	Source      string          `json:"source"`
}

// ImportSource is the source tag stamped on events read from .ics data.
const ImportSource = "ics"

// ParseICS parses an ICS payload into raw event documents for the store.
//
//   - All-day events are detected from VALUE=DATE or a DTSTART without a
//     time part, and stored with a date-only start.
//   - RRULE values are kept verbatim; nothing is expanded.
//   - A VEVENT without UID is logged and skipped.
func ParseICS(body []byte) ([]json.RawMessage, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	docs := make([]json.RawMessage, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr)
			continue
		}
		doc, merr := json.Marshal(ev)
		if merr != nil {
			appLog.Error("ics vevent encode failed", merr, "uid", ev.ID)
			continue
		}
		docs = append(docs, doc)
	}

	appLog.Info("ics parse completed", "event_count", len(docs))
	return docs, nil
}

func parseVEvent(ve *ical.VEvent) (importedEvent, error) {
	out := importedEvent{Source: ImportSource}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.ID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}

	if dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart); dtStartProp != nil {
		if params := dtStartProp.ICalParameters; params != nil {
			if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
				out.AllDay = true
			}
		}
		if !strings.Contains(dtStartProp.Value, "T") {
			out.AllDay = true
		}
	}

	if v, ok := dateValue(ve.GetProperty(ical.ComponentPropertyDtStart), out.AllDay); ok {
		out.StartDate = v
	}
	if !out.AllDay {
		if v, ok := dateValue(ve.GetProperty(ical.ComponentPropertyDtEnd), false); ok {
			out.EndDate = v
		}
	}
	if v, ok := dateValue(ve.GetProperty(ical.ComponentPropertyCreated), false); ok {
		out.CreatedAt = v
	}
	if v, ok := dateValue(ve.GetProperty(ical.ComponentPropertyLastModified), false); ok {
		out.UpdatedAt = v
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.Recurrence = rruleProp.Value
	}

	return out, nil
}

// Stored layouts for imported values. Floating times keep no zone so they
// are read in the configured timezone when compiled.
const (
	dateLayout     = "2006-01-02"
	floatingLayout = "2006-01-02T15:04:05"
)

// dateValue converts a DATE or DATE-TIME property to stored text. UTC and
// TZID values become RFC 3339 instants; floating values stay zone-less.
// dateOnly keeps only the date part.
func dateValue(p *ical.IANAProperty, dateOnly bool) (model.DateValue, bool) {
	if p == nil {
		return model.DateValue{}, false
	}
	t, floating, err := parseICSTime(p.Value, tzid(p))
	if err != nil {
		appLog.Debug("ics date ignored", "value", p.Value, "error", err.Error())
		return model.DateValue{}, false
	}
	switch {
	case dateOnly:
		return model.Text(t.Format(dateLayout)), true
	case floating:
		return model.Text(t.Format(floatingLayout)), true
	default:
		return model.Text(t.Format(time.RFC3339)), true
	}
}

func tzid(p *ical.IANAProperty) string {
	if vs, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// parseICSTime parses a basic ICS date or date-time. The second result
// reports a value with no zone: floating or date-only. An unknown TZID is
// treated as floating.
func parseICSTime(v, zone string) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}
	if !strings.Contains(v, "T") {
		t, err := time.Parse("20060102", v)
		return t, true, err
	}
	if zone != "" {
		if loc, err := time.LoadLocation(zone); err == nil {
			t, err := time.ParseInLocation("20060102T150405", v, loc)
			return t, false, err
		}
	}
	t, err := time.Parse("20060102T150405", v)
	return t, true, err
}
