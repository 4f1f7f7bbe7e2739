package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
	"calfeed/internal/metrics"
)

// exportFailed labels exports that never reached the compiler.
const exportFailed = "failed"

// handleCalendar compiles owner's stored events into an .ics download.
//
// Every outcome except a missing owner answers with a parseable calendar:
// a store error, a panic, or an encode failure all produce the
// header-only document with status 500.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromPath(r.PathValue("owner"))
	if owner == "" {
		s.handleMissingOwner(w, r)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			appLog.Error("calendar export panicked", fmt.Errorf("panic: %v", rec), "owner", owner)
			metrics.ExportsTotal.WithLabelValues(exportFailed).Inc()
			s.writeCalendarFailure(w, owner, s.compiler.EmptyDocument())
		}
	}()

	raws, err := s.store.EventsForOwner(r.Context(), owner)
	if err != nil {
		appLog.Error("calendar export: event fetch failed", err, "owner", owner)
		metrics.ExportsTotal.WithLabelValues(exportFailed).Inc()
		s.writeCalendarFailure(w, owner, s.compiler.EmptyDocument())
		return
	}

	res := s.compiler.Compile(raws)
	if res.Status == ics.StatusDegraded {
		appLog.Error("calendar export degraded", res.Err, "owner", owner)
		s.writeCalendarFailure(w, owner, res.Body)
		return
	}

	appLog.Info("calendar exported",
		"owner", owner,
		"status", string(res.Status),
		"events", res.Compiled,
		"skipped", len(res.Skipped),
	)

	h := w.Header()
	h.Set("Content-Type", "text/calendar; charset=utf-8")
	h.Set("Content-Disposition", `attachment; filename="calendar-`+filenameSafe(owner)+`.ics"`)
	h.Set("Content-Length", strconv.Itoa(len(res.Body)))
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

func (s *Server) writeCalendarFailure(w http.ResponseWriter, owner string, body []byte) {
	h := w.Header()
	h.Set("Content-Type", "text/calendar; charset=utf-8")
	h.Set("Content-Disposition", `attachment; filename="calendar-`+filenameSafe(owner)+`-error.ics"`)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = w.Write(body)
}

func (s *Server) handleMissingOwner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte("User ID is required"))
}

// ownerFromPath accepts both "/calendar/alice" and "/calendar/alice.ics".
func ownerFromPath(v string) string {
	return strings.TrimSpace(strings.TrimSuffix(v, ".ics"))
}

// filenameSafe keeps owner ids usable inside a quoted Content-Disposition
// filename.
func filenameSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.', r == '@':
			return r
		default:
			return '_'
		}
	}, s)
}
