package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// rawDocument mirrors the stored record shape. Every field is kept raw so
// that a wrongly typed field degrades that field instead of the record.
type rawDocument struct {
	ID          json.RawMessage `json:"id"`
	OwnerID     json.RawMessage `json:"ownerId"`
	UserID      json.RawMessage `json:"userId"`
	Title       json.RawMessage `json:"title"`
	Description json.RawMessage `json:"description"`
	StartDate   json.RawMessage `json:"startDate"`
	EndDate     json.RawMessage `json:"endDate"`
	AllDay      json.RawMessage `json:"allDay"`
	CreatedAt   json.RawMessage `json:"createdAt"`
	UpdatedAt   json.RawMessage `json:"updatedAt"`
	Source      json.RawMessage `json:"source"`
	Recurrence  json.RawMessage `json:"recurrence"`
}

// DecodeRawEvent decodes one stored JSON document. It only fails when data
// is not a JSON object; field-level type mismatches are absorbed.
func DecodeRawEvent(data []byte) (RawEvent, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return RawEvent{}, fmt.Errorf("decode event document: %w", err)
	}

	ev := RawEvent{
		ID:          textValue(doc.ID),
		OwnerID:     textValue(doc.OwnerID),
		Title:       textValue(doc.Title),
		Description: textValue(doc.Description),
		StartDate:   dateValue(doc.StartDate),
		EndDate:     dateValue(doc.EndDate),
		AllDay:      truthy(doc.AllDay),
		CreatedAt:   dateValue(doc.CreatedAt),
		UpdatedAt:   dateValue(doc.UpdatedAt),
		Source:      textValue(doc.Source),
		Recurrence:  textValue(doc.Recurrence),
	}
	if ev.OwnerID == "" {
		ev.OwnerID = textValue(doc.UserID)
	}
	return ev, nil
}

// UnmarshalJSON lets a DateValue sit directly in JSON-decoded structs.
func (d *DateValue) UnmarshalJSON(data []byte) error {
	*d = dateValue(data)
	return nil
}

// MarshalJSON writes the value back in the shape it was read from.
func (d DateValue) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DateText:
		return json.Marshal(d.Text)
	case DateNumeric:
		if math.IsNaN(d.Number) || math.IsInf(d.Number, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(d.Number)
	case DateWrapped:
		if d.Wrapped == nil {
			return []byte("null"), nil
		}
		return json.Marshal(struct {
			Seconds int64 `json:"seconds"`
			Nanos   int32 `json:"nanoseconds"`
		}{d.Wrapped.GetSeconds(), d.Wrapped.GetNanos()})
	default:
		return []byte("null"), nil
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// dateValue classifies a raw JSON date into the closed DateValue variant.
// Timestamp objects are recognized in the {seconds, nanos} form and the
// {_seconds, _nanoseconds} form document stores export.
func dateValue(raw json.RawMessage) DateValue {
	if isNull(raw) {
		return Missing()
	}
	trimmed := bytes.TrimSpace(raw)

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Text(string(trimmed))
		}
		return Text(s)
	case '{':
		if ts, ok := timestampObject(trimmed); ok {
			return Wrapped(ts)
		}
		return Text(string(trimmed))
	case '[', 't', 'f':
		return Text(string(trimmed))
	default:
		n, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return Text(string(trimmed))
		}
		return Millis(n)
	}
}

func timestampObject(raw []byte) (*timestamppb.Timestamp, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}

	secRaw, ok := firstKey(obj, "seconds", "_seconds")
	if !ok {
		return nil, false
	}
	var sec float64
	if err := json.Unmarshal(secRaw, &sec); err != nil {
		return nil, false
	}

	var nanos float64
	if nRaw, ok := firstKey(obj, "nanos", "nanoseconds", "_nanoseconds"); ok {
		if err := json.Unmarshal(nRaw, &nanos); err != nil {
			return nil, false
		}
	}
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec > math.MaxInt64 || sec < math.MinInt64 {
		return nil, false
	}
	if nanos > math.MaxInt32 || nanos < math.MinInt32 {
		return nil, false
	}
	return &timestamppb.Timestamp{Seconds: int64(sec), Nanos: int32(nanos)}, true
}

func firstKey(obj map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

// textValue renders scalars as text. Objects and arrays yield "".
func textValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		return s
	case '{', '[':
		return ""
	default:
		return string(trimmed)
	}
}

// truthy accepts true, "true"/"1"/"yes" and non-zero numbers.
func truthy(raw json.RawMessage) bool {
	if isNull(raw) {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	switch trimmed[0] {
	case 't':
		return string(trimmed) == "true"
	case 'f':
		return false
	case '"':
		switch strings.ToLower(strings.TrimSpace(textValue(trimmed))) {
		case "true", "1", "yes":
			return true
		}
		return false
	case '{', '[':
		return false
	default:
		n, err := strconv.ParseFloat(string(trimmed), 64)
		return err == nil && n != 0
	}
}
