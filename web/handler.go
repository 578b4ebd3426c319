package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tablekit/tablekit/apierr"
	"github.com/tablekit/tablekit/engine"
	"github.com/tablekit/tablekit/metadata"
	"github.com/tablekit/tablekit/params"
	"github.com/tablekit/tablekit/schema"
)

// Handler mounts the engine's operations on an HTTP router
type Handler struct {
	executor engine.Executor
	registry *schema.Registry
	extract  ContextExtractor
	logger   *zap.Logger
}

// NewHandler creates an adapter over the given executor. The executor may
// be the engine itself or its caching decorator.
func NewHandler(executor engine.Executor, registry *schema.Registry, extract ContextExtractor, logger *zap.Logger) *Handler {
	if extract == nil {
		extract = AnonymousContext
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		executor: executor,
		registry: registry,
		extract:  extract,
		logger:   logger,
	}
}

// Routes returns the adapter's router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logging(h.logger))

	r.Get("/_resources", h.listResources)
	r.Get("/{resource}", h.query)
	r.Get("/{resource}/_meta", h.meta)
	return r
}

// listResources returns the names of all registered resources
func (h *Handler) listResources(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]any{"resources": h.registry.Names()})
}

// meta returns the capability description for one resource
func (h *Handler) meta(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	resource, ok := h.registry.Get(name)
	if !ok {
		RenderError(w, &apierr.NotFoundError{Resource: name})
		return
	}
	renderJSON(w, http.StatusOK, metadata.Generate(resource))
}

// query dispatches one request to the right executor operation: export
// when an export format is present, grouped when groupBy is present,
// recursive on request, plain query otherwise
func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "resource")
	resource, ok := h.registry.Get(name)
	if !ok {
		RenderError(w, &apierr.NotFoundError{Resource: name})
		return
	}

	rc, err := h.extract(r)
	if err != nil {
		renderJSON(w, http.StatusUnauthorized, &ErrorResponse{
			Error:   "unauthorized",
			Message: err.Error(),
		})
		return
	}

	p, err := params.ParseRequest(resource, r)
	if err != nil {
		RenderError(w, err)
		return
	}

	ctx := r.Context()

	if p.Export != "" {
		export, err := h.executor.Export(ctx, name, p, rc)
		if err != nil {
			RenderError(w, err)
			return
		}
		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
		w.WriteHeader(http.StatusOK)
		w.Write(export.Payload)
		return
	}

	var result *engine.Result
	switch {
	case len(p.GroupBy) > 0:
		result, err = h.executor.QueryGrouped(ctx, name, p, rc)
	case r.URL.Query().Get("recursive") == "true":
		result, err = h.executor.QueryRecursive(ctx, name, p, rc)
	default:
		result, err = h.executor.Query(ctx, name, p, rc)
	}
	if err != nil {
		RenderError(w, err)
		return
	}

	w.Header().Set("X-Total-Count", strconv.FormatInt(result.Meta.Total, 10))
	renderJSON(w, http.StatusOK, result)
}
