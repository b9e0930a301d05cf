package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Sessions.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type createConversationRequest struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	conv, err := h.deps.Sessions.Create(r.Context(), req.ID, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.deps.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) clearConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Sessions.ClearConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type messageRequest struct {
	Text string `json:"text"`
}

// sendMessage runs one turn. The conversation is created on first use so
// clients may pick their own ids.
func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	turn, err := h.deps.Sessions.HandleMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (h *Handler) getPlan(w http.ResponseWriter, r *http.Request) {
	list, ok := h.deps.Sessions.Plan(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no plan")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// planControl adapts an executor control to a handler that answers with the
// plan after the call.
func (h *Handler) planControl(fn func(ctx context.Context, convID string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := fn(r.Context(), id); err != nil {
			h.fail(w, r, err)
			return
		}
		list, _ := h.deps.Sessions.Plan(id)
		writeJSON(w, http.StatusAccepted, list)
	}
}

type inputRequest struct {
	StepID string `json:"step_id,omitempty"`
	Text   string `json:"text"`
}

func (h *Handler) submitInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Sessions.SubmitStepInput(r.Context(), id, req.StepID, req.Text); err != nil {
		h.fail(w, r, err)
		return
	}
	list, _ := h.deps.Sessions.Plan(id)
	writeJSON(w, http.StatusAccepted, list)
}
