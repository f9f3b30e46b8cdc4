package handler

import (
	"errors"
	"net/http"
	"strconv"

	"bizdir/internal/service"
	"bizdir/internal/token"
	"bizdir/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AdminHandler exposes the operational surface: pending deletions and
// cleanup control.
type AdminHandler struct {
	cleanupService *service.CleanupService
	issuer         *token.Issuer
	logger         *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(cleanupService *service.CleanupService, issuer *token.Issuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		cleanupService: cleanupService,
		issuer:         issuer,
		logger:         logger,
	}
}

// RegisterRoutes registers all admin routes
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(RequireAuth(h.issuer, h.logger))

		r.Get("/deletions", h.ListDeletions)
		r.Get("/cleanup/status", h.CleanupStatus)
		r.Post("/cleanup/run", h.RunCleanup)
	})
}

// ListDeletions returns accounts with a pending deletion, soonest first
func (h *AdminHandler) ListDeletions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err == nil && parsed <= 0 {
			err = errors.New("limit must be a positive integer")
		}
		if err != nil {
			respondWithJSON(w, h.logger, http.StatusBadRequest,
				errorResponse(CodeValidationFailed, err, "Limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	accounts, err := h.cleanupService.ListPending(ctx, limit)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to list pending deletions")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(accounts, "Pending deletions retrieved successfully"))
}

// CleanupStatus reports scheduler state and cumulative totals
func (h *AdminHandler) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	status := h.cleanupService.Status()
	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(status, "Cleanup status retrieved successfully"))
}

// RunCleanup triggers a pass outside the schedule. A pass already in
// flight is reported as skipped, never queued.
func (h *AdminHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats := h.cleanupService.Run(ctx)
	if stats.Skipped {
		respondWithJSON(w, h.logger, http.StatusConflict,
			successResponse(stats, "A cleanup pass is already running"))
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(stats, "Cleanup pass completed"))
	h.logger.Info("Cleanup triggered via HTTP",
		util.Int("processed", stats.Processed),
		util.Int("deleted", stats.Deleted),
		util.String("method", "RunCleanup"),
	)
}
