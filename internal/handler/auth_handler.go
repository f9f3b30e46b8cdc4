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

// AuthHandler handles HTTP requests for the public authentication surface
type AuthHandler struct {
	authService         *service.AuthService
	verificationService *service.VerificationService
	logger              *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	authService *service.AuthService,
	verificationService *service.VerificationService,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		authService:         authService,
		verificationService: verificationService,
		logger:              logger,
	}
}

// loginResult pairs the account view with its tokens
type loginResult struct {
	Account interface{} `json:"account"`
	Tokens  *token.Pair `json:"tokens"`
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Get("/verify-email/{token}", h.VerifyEmail)
		r.Post("/resend-verification", h.ResendVerification)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
	})
}

// Register handles signup submissions
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}
	req.IP = clientIP(r)
	req.UserAgent = r.UserAgent()

	result, err := h.authService.Register(ctx, &req)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to register")
		return
	}

	respondWithJSON(w, h.logger, http.StatusAccepted,
		successResponse(result, "Check your inbox to confirm your email address"))
	h.logger.Info("Registration accepted via HTTP",
		util.String("email", result.Email),
		util.Bool("email_sent", result.EmailSent),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// Login handles credential authentication
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}

	acc, pair, err := h.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to log in")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(loginResult{Account: acc, Tokens: pair}, "Logged in successfully"))
	h.logger.Info("Login via HTTP",
		util.String("account_id", acc.ID.Hex()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

// Refresh exchanges a valid refresh token for a fresh pair
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}

	pair, err := h.authService.Refresh(ctx, req.RefreshToken)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to refresh tokens")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(pair, "Tokens refreshed"))
}

// VerifyEmail consumes a verification link
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	tok := chi.URLParam(r, "token")
	acc, pair, err := h.verificationService.VerifyEmail(ctx, tok)
	if err != nil {
		respondWithError(w, h.logger, err, "Failed to verify email")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(loginResult{Account: acc, Tokens: pair}, "Email verified successfully"))
	h.logger.Info("Email verified via HTTP",
		util.String("account_id", acc.ID.Hex()),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyEmail"),
	)
}

// ResendVerification re-sends the verification email. The response is the
// same generic success whether or not the address is known.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}

	if err := h.verificationService.ResendVerification(ctx, req.Email, clientIP(r)); err != nil {
		respondWithError(w, h.logger, err, "Failed to resend verification")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(nil, "If that address has a pending registration, a new link is on its way"))
}

// ForgotPassword starts the password reset workflow
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}

	if err := h.verificationService.RequestPasswordReset(ctx, req.Email, clientIP(r)); err != nil {
		respondWithError(w, h.logger, err, "Failed to request password reset")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(nil, "If that address belongs to an account, a reset link is on its way"))
}

// ResetPassword completes the password reset workflow
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, h.logger, http.StatusBadRequest,
			errorResponse(CodeValidationFailed, err, "Invalid request body"))
		return
	}

	if err := h.verificationService.ConfirmPasswordReset(ctx, req.Token, req.NewPassword); err != nil {
		respondWithError(w, h.logger, err, "Failed to reset password")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK,
		successResponse(nil, "Password updated, you can now log in"))
}

// clientIP returns the remote address as resolved by the RealIP middleware
func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
