package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/pantry/internal/docstore"
)

// DocumentHandler exposes a docstore.Store over HTTP for docstore.Client.
type DocumentHandler struct {
	store  docstore.Store
	logger *slog.Logger
}

func NewDocumentHandler(store docstore.Store, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{store: store, logger: logger}
}

// parseRef splits the {path...} wildcard into collection and document id.
// The collection needs an odd number of segments: households, households/h1/items.
func parseRef(r *http.Request) (docstore.Ref, bool) {
	segments := strings.Split(strings.Trim(r.PathValue("path"), "/"), "/")
	if len(segments) < 2 || len(segments)%2 != 0 {
		return docstore.Ref{}, false
	}
	for _, s := range segments {
		if s == "" {
			return docstore.Ref{}, false
		}
	}
	last := len(segments) - 1
	return docstore.Doc(docstore.Path(segments[:last]...), segments[last]), true
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document path"})
		return
	}

	doc, err := h.store.Get(r.Context(), ref)
	if errors.Is(err, docstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	if err != nil {
		h.logger.Error("get document", "ref", ref.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get document"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Set(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document path"})
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.store.Set(r.Context(), ref, data); err != nil {
		h.logger.Error("set document", "ref", ref.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to set document"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document path"})
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	err := h.store.Update(r.Context(), ref, fields)
	if errors.Is(err, docstore.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}
	if err != nil {
		h.logger.Error("update document", "ref", ref.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update document"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid document path"})
		return
	}

	if err := h.store.Delete(r.Context(), ref); err != nil {
		h.logger.Error("delete document", "ref", ref.String(), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete document"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Query(w http.ResponseWriter, r *http.Request) {
	var q docstore.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if q.Collection == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "collection is required"})
		return
	}

	docs, err := h.store.Query(r.Context(), q)
	if err != nil {
		h.logger.Error("query documents", "collection", q.Collection, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to query documents"})
		return
	}
	if docs == nil {
		docs = []docstore.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
