package ics

import (
	"errors"
	"strings"
	"time"

	"calfeed/internal/model"
)

const (
	CategoryGeneral = "General"
	CategoryManual  = "Manual"
)

// Mapper derives the serialization-ready fields of a SanitizedEvent.
type Mapper struct {
	Location *time.Location
	// Categories maps lower-case source tags to labels.
	Categories map[string]string
	ProductID  string
}

// Map converts ev. Times are read at minute resolution in the mapper's
// location.
func (m *Mapper) Map(ev model.SanitizedEvent) (model.MappedEvent, error) {
	if ev.ID == "" {
		return model.MappedEvent{}, errors.New("map: event has no identifier")
	}
	if ev.Start.IsZero() {
		return model.MappedEvent{}, errors.New("map: event has no start")
	}

	loc := m.location()
	start := ev.Start.In(loc).Truncate(time.Minute)

	out := model.MappedEvent{
		UID:          ev.ID,
		Title:        ev.Title,
		Description:  ev.Description,
		AllDay:       ev.AllDay,
		Created:      point(ev.Created.In(loc)),
		LastModified: point(ev.Updated.In(loc)),
		Category:     m.category(ev.CategoryTag),
		Status:       model.StatusConfirmed,
		ProductID:    m.ProductID,
		RRule:        ev.Recurrence,
	}

	if ev.AllDay {
		out.Start = model.DateTime{Year: start.Year(), Month: int(start.Month()), Day: start.Day()}
		out.Duration = model.Duration{Days: 1}
		return out, nil
	}

	end := ev.End.In(loc).Truncate(time.Minute)
	if !end.After(start) {
		end = start.Add(defaultDuration)
	}
	endPoint := point(end)

	out.Start = point(start)
	out.End = &endPoint
	out.EndKind = model.EndKindLocal
	out.Duration = Decompose(end.Sub(start))
	return out, nil
}

func (m *Mapper) location() *time.Location {
	if m.Location == nil {
		return time.UTC
	}
	return m.Location
}

func (m *Mapper) category(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return CategoryGeneral
	}
	if label, ok := m.Categories[tag]; ok && label != "" {
		return label
	}
	return CategoryManual
}

// Decompose splits d into weeks, days, hours, minutes and seconds, largest
// unit first. Spans under one second fall back to one hour.
func Decompose(d time.Duration) model.Duration {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return model.Duration{Hours: 1}
	}

	const (
		minute = 60
		hour   = 60 * minute
		day    = 24 * hour
		week   = 7 * day
	)

	var out model.Duration
	out.Weeks = int(secs / week)
	secs %= week
	out.Days = int(secs / day)
	secs %= day
	out.Hours = int(secs / hour)
	secs %= hour
	out.Minutes = int(secs / minute)
	out.Seconds = int(secs % minute)
	return out
}

func point(t time.Time) model.DateTime {
	return model.PointAt(t)
}
