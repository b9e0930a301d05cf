package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

type knowledgeRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

func (h *Handler) addKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.deps.Knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	var req knowledgeRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	n, err := h.deps.Knowledge.Add(r.Context(), req.Source, req.Content)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"chunks": n})
}

func (h *Handler) searchKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.deps.Knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	topK := 5
	if s := r.URL.Query().Get("top_k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = n
	}
	results, err := h.deps.Knowledge.Query(r.Context(), q, topK)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) removeKnowledge(w http.ResponseWriter, r *http.Request) {
	if h.deps.Knowledge == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	if err := h.deps.Knowledge.Remove(r.Context(), chi.URLParam(r, "source")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
