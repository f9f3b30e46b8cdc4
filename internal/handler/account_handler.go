package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"bizdir/internal/service"
	"bizdir/internal/token"
	"bizdir/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AccountHandler handles the authenticated account surface
type AccountHandler struct {
	accountService      *service.AccountService
	verificationService *service.VerificationService
	issuer              *token.Issuer
	logger              *zap.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(
	accountService *service.AccountService,
	verificationService *service.VerificationService,
	issuer *token.Issuer,
	logger *zap.Logger,
) *AccountHandler {
	return &AccountHandler{
		accountService:      accountService,
		verificationService: verificationService,
		issuer:              issuer,
		logger:              logger,
	}
}

// RegisterRoutes registers all account routes. Everything here requires a
// valid access token.
func (h *AccountHandler) RegisterRoutes(router chi.Router) {
	router.Route("/account", func(r chi.Router) {
		r.Use(RequireAuth(h.issuer, h.logger))

		r.Get("/me", h.Me)
		r.Post("/email-change", h.RequestEmailChange)
		r.Get("/verify-email-change/{token}", h.VerifyEmailChange)
		r.Post("/delete", h.ScheduleDeletion)
		r.Post("/delete/cancel", h.CancelDeletion)
	})
}

// Me returns the authenticated account
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, _ := SubjectFromContext(ctx)
	acc, err := h.accountService.Get(ctx, subject)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to load account")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(acc, "Account retrieved successfully"))
}

// RequestEmailChange starts a two-step email change
func (h *AccountHandler) RequestEmailChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		NewEmail string `json:"new_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}

	subject, _ := SubjectFromContext(ctx)
	if err := h.verificationService.RequestEmailChange(ctx, subject, req.NewEmail); err != nil {
		respondWithError(w, h.logger, err, "Failed to request email change")
		return
	}

	respondWithJSON(w, h.logger, http.StatusAccepted,
		successResponse(nil, "Confirmation sent to the new address"))
	h.logger.Info("Email change requested via HTTP",
		util.String("account_id", subject),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestEmailChange"),
	)
}

// VerifyEmailChange completes a pending email change
func (h *AccountHandler) VerifyEmailChange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, _ := SubjectFromContext(ctx)
	tok := chi.URLParam(r, "token")

	acc, err := h.verificationService.ConfirmEmailChange(ctx, subject, tok)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to confirm email change")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(acc, "Email address updated"))
}

// ScheduleDeletion marks the account for deletion after the grace period
func (h *AccountHandler) ScheduleDeletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, _ := SubjectFromContext(ctx)
	due, err := h.accountService.ScheduleDeletion(ctx, subject)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to schedule deletion")
		return
	}

	respondWithJSON(w, h.logger, http.StatusAccepted, successResponse(map[string]interface{}{
		"scheduled_for": due,
	}, "Account scheduled for deletion"))
	h.logger.Info("Account deletion scheduled via HTTP",
		util.String("account_id", subject),
		util.String("method", "ScheduleDeletion"),
	)
}

// CancelDeletion aborts a pending deletion
func (h *AccountHandler) CancelDeletion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject, _ := SubjectFromContext(ctx)
	if err := h.accountService.CancelDeletion(ctx, subject); err != nil {
		respondWithError(w, h.logger, err, "Failed to cancel deletion")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Deletion cancelled"))
	h.logger.Info("Account deletion cancelled via HTTP",
		util.String("account_id", subject),
		util.String("method", "CancelDeletion"),
	)
}
