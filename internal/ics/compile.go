package ics

import (
	"io"
	"strings"
	"time"

	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
)

// Status is the outcome of one compilation.
type Status string

const (
	// StatusOK means at least one event was written.
	StatusOK Status = "ok"
	// StatusEmpty means there was nothing to write; the body is header-only.
	StatusEmpty Status = "empty"
	// StatusDegraded means encoding failed and the body fell back to
	// header-only. Callers should report a server error.
	StatusDegraded Status = "degraded"
)

// Skip records one event left out of the document.
type Skip struct {
	Index  int
	ID     string
	Reason SkipReason
	Detail string
}

// Result is a compiled document plus what happened on the way.
type Result struct {
	Body     []byte
	Status   Status
	Compiled int
	Skipped  []Skip
	// Err is set when Status is StatusDegraded.
	Err error
}

// Options configures a Compiler.
type Options struct {
	Location     *time.Location
	ProductID    string
	CalendarName string
	Categories   map[string]string
	Clock        Clock
	Entropy      io.Reader
}

// Compiler turns raw event records into an iCalendar document. It is safe
// for concurrent use.
type Compiler struct {
	clock     Clock
	sanitizer *Sanitizer
	mapper    *Mapper
	assembler *Assembler
}

func NewCompiler(opts Options) *Compiler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	return &Compiler{
		clock: opts.Clock,
		sanitizer: &Sanitizer{
			Clock:    opts.Clock,
			Location: opts.Location,
			Entropy:  opts.Entropy,
		},
		mapper: &Mapper{
			Location:   opts.Location,
			Categories: lowerKeys(opts.Categories),
			ProductID:  opts.ProductID,
		},
		assembler: &Assembler{
			ProductID:    opts.ProductID,
			CalendarName: opts.CalendarName,
			Location:     opts.Location,
		},
	}
}

// Compile sanitizes and maps each record independently, drops the ones
// that fail, and assembles the rest in input order. It never fails: the
// worst case is a header-only body with StatusDegraded.
func (c *Compiler) Compile(raws []model.RawEvent) Result {
	now := c.clock.Now()

	mapped := make([]model.MappedEvent, 0, len(raws))
	var skipped []Skip

	for i, raw := range raws {
		ev, skip := c.prepare(raw, now)
		if skip != nil {
			skip.Index = i
			skipped = append(skipped, *skip)
			metrics.EventsSkipped.WithLabelValues(string(skip.Reason)).Inc()
			appLog.Info("event skipped", "index", i, "id", skip.ID, "reason", string(skip.Reason), "detail", skip.Detail)
			continue
		}
		mapped = append(mapped, ev)
	}

	res := c.assemble(mapped, now)
	res.Skipped = skipped
	return res
}

// EmptyDocument is the header-only calendar used for every failure path.
func (c *Compiler) EmptyDocument() []byte {
	return c.assembler.Empty()
}

func (c *Compiler) prepare(raw model.RawEvent, now time.Time) (model.MappedEvent, *Skip) {
	sr := c.sanitizer.SanitizeAt(raw, now)
	if sr.Skipped {
		return model.MappedEvent{}, &Skip{ID: raw.ID, Reason: sr.Reason, Detail: sr.Detail}
	}
	for _, field := range sr.Fallbacks {
		metrics.DateFallbacks.WithLabelValues(field).Inc()
	}

	ev, err := c.mapper.Map(sr.Event)
	if err != nil {
		return model.MappedEvent{}, &Skip{ID: sr.Event.ID, Reason: SkipMappingFailure, Detail: err.Error()}
	}
	return ev, nil
}

func (c *Compiler) assemble(mapped []model.MappedEvent, now time.Time) Result {
	if len(mapped) == 0 {
		metrics.ExportsTotal.WithLabelValues(string(StatusEmpty)).Inc()
		return Result{Body: c.assembler.Empty(), Status: StatusEmpty}
	}

	body, err := c.assembler.Assemble(mapped, now)
	if err != nil {
		appLog.Error("calendar encode failed; serving empty calendar", err, "events", len(mapped))
		metrics.ExportsTotal.WithLabelValues(string(StatusDegraded)).Inc()
		return Result{Body: body, Status: StatusDegraded, Err: err}
	}

	metrics.ExportsTotal.WithLabelValues(string(StatusOK)).Inc()
	metrics.EventsCompiled.Add(float64(len(mapped)))
	return Result{Body: body, Status: StatusOK, Compiled: len(mapped)}
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
