package web

import (
	"encoding/json"
	"errors"
	"net/http"

	appLog "calfeed/internal/log"
	"calfeed/internal/store"
)

// maxIngestBytes bounds a PUT /api/events body.
const maxIngestBytes = 10 << 20

type putEventsResponse struct {
	Owner  string `json:"owner"`
	Stored int    `json:"stored"`
}

type deleteEventsResponse struct {
	Owner   string `json:"owner"`
	Deleted int    `json:"deleted"`
}

// handlePutEvents replaces the owner's stored documents with the JSON
// array in the request body. Documents are stored as sent; validation of
// their fields happens at export time.
//
// PUT /api/events/{owner}
func (s *Server) handlePutEvents(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromPath(r.PathValue("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBytes)
	var docs []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "body must be a JSON array of event documents")
		return
	}

	stored, err := s.store.PutEvents(r.Context(), owner, docs)
	if err != nil {
		if errors.Is(err, store.ErrEmptyOwner) {
			writeError(w, http.StatusBadRequest, "owner is required")
			return
		}
		appLog.Error("put events failed", err, "owner", owner, "documents", len(docs))
		writeError(w, http.StatusInternalServerError, "failed to store events")
		return
	}

	writeJSON(w, http.StatusOK, putEventsResponse{Owner: owner, Stored: stored})
}

// handleDeleteEvents drops every stored document of the owner.
//
// DELETE /api/events/{owner}
func (s *Server) handleDeleteEvents(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromPath(r.PathValue("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	deleted, err := s.store.DeleteOwner(r.Context(), owner)
	if err != nil {
		appLog.Error("delete events failed", err, "owner", owner)
		writeError(w, http.StatusInternalServerError, "failed to delete events")
		return
	}

	writeJSON(w, http.StatusOK, deleteEventsResponse{Owner: owner, Deleted: deleted})
}
