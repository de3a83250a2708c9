package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/api/dto"
	"github.com/aubravo/earthgazer/api/middleware"
	"github.com/aubravo/earthgazer/api/service"
	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/geo"
)

type Handler struct {
	service *service.Service
	logger  *zap.Logger
}

func New(service *service.Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register wires every route onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /locations", h.CreateLocation)
	mux.HandleFunc("GET /locations", h.ListLocations)
	mux.HandleFunc("GET /locations/{id}", h.GetLocation)
	mux.HandleFunc("PUT /locations/{id}", h.UpdateLocation)
	mux.HandleFunc("DELETE /locations/{id}", h.DeleteLocation)
	mux.HandleFunc("POST /locations/{id}/process", h.ProcessLocation)

	mux.HandleFunc("GET /captures", h.ListCaptures)

	mux.HandleFunc("POST /workflows/process", h.Process)
	mux.HandleFunc("POST /workflows/discover", h.Discover)
	mux.HandleFunc("POST /workflows/full", h.FullPipeline)
	mux.HandleFunc("POST /workflows/reprocess", h.Reprocess)

	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.CancelJob)
	mux.HandleFunc("GET /tasks", h.ListTasks)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.CreateLocation(r.Context(), &req)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidBounds) {
			h.handleError(w, r, "invalid bounds", err, http.StatusBadRequest)
			return
		}
		h.handleError(w, r, "create location failed", err, http.StatusBadRequest)
		return
	}
	h.respondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	resp, err := h.service.ListLocations(r.Context(), activeOnly)
	if err != nil {
		h.handleError(w, r, "list locations failed", err, http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	resp, err := h.service.GetLocation(r.Context(), id)
	if err != nil {
		h.notFoundOr500(w, r, "get location failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req dto.CreateLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.UpdateLocation(r.Context(), id, &req)
	if err != nil {
		if errors.Is(err, catalog.ErrLocationNotFound) {
			h.handleError(w, r, "location not found", err, http.StatusNotFound)
			return
		}
		h.handleError(w, r, "update location failed", err, http.StatusBadRequest)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteLocation(r.Context(), id); err != nil {
		h.notFoundOr500(w, r, "delete location failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ProcessLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req dto.LocationCapturesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.ProcessLocation(r.Context(), id, &req)
	if err != nil {
		h.notFoundOr500(w, r, "process location failed", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) ListCaptures(w http.ResponseWriter, r *http.Request) {
	f := catalog.CaptureFilter{NewestFirst: true}
	if v := r.URL.Query().Get("backed_up"); v != "" {
		backedUp := v == "true"
		f.BackedUp = &backedUp
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	resp, err := h.service.ListCaptures(r.Context(), f)
	if err != nil {
		h.handleError(w, r, "list captures failed", err, http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	var req dto.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.Process(r.Context(), &req)
	if err != nil {
		h.notFoundOr500(w, r, "submit processing failed", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	var req dto.DiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.Discover(r.Context(), &req)
	if err != nil {
		h.notFoundOr500(w, r, "submit discovery failed", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) FullPipeline(w http.ResponseWriter, r *http.Request) {
	var req dto.FullPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.FullPipeline(r.Context(), &req)
	if err != nil {
		h.notFoundOr500(w, r, "submit full pipeline failed", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req dto.ReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.handleError(w, r, "malformed request body", err, http.StatusBadRequest)
		return
	}
	resp, err := h.service.Reprocess(r.Context(), &req)
	if err != nil {
		h.notFoundOr500(w, r, "submit reprocess failed", err)
		return
	}
	h.respondJSON(w, http.StatusAccepted, resp)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.notFoundOr500(w, r, "get job failed", err)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelJob(r.Context(), r.PathValue("id")); err != nil {
		h.notFoundOr500(w, r, "cancel job failed", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	f := catalog.TaskFilter{}
	if v := r.URL.Query().Get("capture_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.CaptureID = &id
		}
	}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = catalog.TaskStatus(v)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	resp, err := h.service.ListTasks(r.Context(), f)
	if err != nil {
		h.handleError(w, r, "list tasks failed", err, http.StatusInternalServerError)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.handleError(w, r, "invalid id", err, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// notFoundOr500 maps the catalog's sentinel errors to 404 and everything else
// to 500.
func (h *Handler) notFoundOr500(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case errors.Is(err, catalog.ErrLocationNotFound),
		errors.Is(err, catalog.ErrCaptureNotFound),
		errors.Is(err, catalog.ErrTaskNotFound),
		errors.Is(err, catalog.ErrJobNotFound):
		h.handleError(w, r, message, err, http.StatusNotFound)
	default:
		h.handleError(w, r, message, err, http.StatusInternalServerError)
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, message string, err error, status int) {
	traceID := middleware.GetTraceID(r.Context())
	h.logger.Error(message,
		zap.String("trace_id", traceID),
		zap.Error(err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(dto.ErrorResponse{Error: message, TraceID: traceID})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
