package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/launchbox/internal/action"
	"github.com/nidhogg/launchbox/internal/events"
	"github.com/nidhogg/launchbox/internal/executor"
	"github.com/nidhogg/launchbox/internal/gateway"
	"github.com/nidhogg/launchbox/internal/intent"
	"github.com/nidhogg/launchbox/internal/params"
	"github.com/nidhogg/launchbox/internal/plan"
	"github.com/nidhogg/launchbox/internal/provider"
	"github.com/nidhogg/launchbox/internal/rag"
	"github.com/nidhogg/launchbox/internal/session"
	"go.uber.org/zap"
)

// Subscriber streams conversation events.
type Subscriber interface {
	Subscribe(convID string) (<-chan *events.Event, func())
}

// Knowledge indexes and searches knowledge-base documents.
type Knowledge interface {
	Add(ctx context.Context, source, content string) (int, error)
	Query(ctx context.Context, query string, topK int) ([]rag.Result, error)
	Remove(ctx context.Context, source string) error
}

// StatusSource reports chat platform adapter health.
type StatusSource interface {
	StatusAll() []gateway.AdapterStatus
}

// ProviderLister lists registered LLM providers.
type ProviderLister interface {
	ListProviders() []provider.Provider
	Default() string
	Bindings() map[provider.Purpose]string
}

// Deps are the components the HTTP surface exposes. Knowledge, Gateway and
// Providers are optional.
type Deps struct {
	Sessions   *session.Manager
	Registry   *action.Registry
	Classifier *intent.Classifier
	Extractor  *params.Extractor
	Planner    *plan.Generator
	Events     Subscriber
	Knowledge  Knowledge
	Gateway    StatusSource
	Providers  ProviderLister
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/actions", h.listActions)
		r.Get("/actions/{id}", h.getAction)

		r.Post("/intent", h.classifyIntent)
		r.Post("/params", h.extractParameters)
		r.Post("/plans", h.generatePlan)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.listConversations)
			r.Post("/", h.createConversation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getConversation)
				r.Delete("/", h.clearConversation)
				r.Post("/messages", h.sendMessage)
				r.Get("/plan", h.getPlan)
				r.Post("/plan/start", h.planControl(h.deps.Sessions.StartPlan))
				r.Post("/plan/pause", h.planControl(func(_ context.Context, id string) error {
					return h.deps.Sessions.PausePlan(id)
				}))
				r.Post("/plan/resume", h.planControl(h.deps.Sessions.ResumePlan))
				r.Post("/plan/force", h.planControl(h.deps.Sessions.ForceNext))
				r.Post("/plan/input", h.submitInput)
				r.Get("/ws", h.streamEvents)
			})
		})

		r.Post("/knowledge", h.addKnowledge)
		r.Get("/knowledge/search", h.searchKnowledge)
		r.Delete("/knowledge/{source}", h.removeKnowledge)

		r.Get("/gateway/status", h.gatewayStatus)
		r.Get("/providers", h.listProviders)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "launchbox"})
}

func (h *Handler) listActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Registry.List())
}

func (h *Handler) getAction(w http.ResponseWriter, r *http.Request) {
	a, ok := h.deps.Registry.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type intentRequest struct {
	Utterance string   `json:"utterance"`
	History   []string `json:"history,omitempty"`
}

func (h *Handler) classifyIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Classifier.Classify(r.Context(), req.Utterance, req.History))
}

type paramsRequest struct {
	ToolID    string `json:"tool_id"`
	Utterance string `json:"utterance"`
	// Quick only tries the whole-utterance shortcut.
	Quick bool `json:"quick,omitempty"`
}

func (h *Handler) extractParameters(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ToolID == "" {
		writeError(w, http.StatusBadRequest, "tool_id is required")
		return
	}
	if req.Quick {
		// null means the full extractor is needed.
		writeJSON(w, http.StatusOK, map[string]any{"parameters": params.QuickExtract(req.ToolID, req.Utterance)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"parameters": h.deps.Extractor.Extract(r.Context(), req.ToolID, req.Utterance),
	})
}

type planRequest struct {
	Utterance string `json:"utterance"`
	Template  string `json:"template,omitempty"`
}

func (h *Handler) generatePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if !decode(w, r, &req) {
		return
	}
	list := h.deps.Planner.Generate(r.Context(), req.Utterance, req.Template)
	if list == nil {
		writeError(w, http.StatusUnprocessableEntity, "no plan could be generated")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeJSON(w, http.StatusOK, []gateway.AdapterStatus{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Gateway.StatusAll())
}

type providerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	if h.deps.Providers == nil {
		writeJSON(w, http.StatusOK, map[string]any{"providers": []providerInfo{}})
		return
	}
	def := h.deps.Providers.Default()
	list := []providerInfo{}
	for _, p := range h.deps.Providers.ListProviders() {
		list = append(list, providerInfo{ID: p.ID(), Name: p.Name(), Default: p.ID() == def})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": list,
		"bindings":  h.deps.Providers.Bindings(),
	})
}

// decode reads a JSON body, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrConversationNotFound),
		errors.Is(err, action.ErrUnknownAction):
		return http.StatusNotFound
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, action.ErrMissingParameter):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNoPlan),
		errors.Is(err, session.ErrPlanRunning),
		errors.Is(err, session.ErrPlanFinished),
		errors.Is(err, executor.ErrAlreadyStarted),
		errors.Is(err, executor.ErrNotRunning),
		errors.Is(err, executor.ErrNotPaused),
		errors.Is(err, executor.ErrNotBlocked),
		errors.Is(err, executor.ErrNotWaiting):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
