package handler

import (
	"context"
	"net/http"
	"strings"

	"bizdir/internal/token"

	"go.uber.org/zap"
)

type contextKey string

// subjectKey carries the authenticated account ID through the request context
const subjectKey contextKey = "subject"

// SubjectFromContext returns the authenticated account ID, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	sub, ok := ctx.Value(subjectKey).(string)
	return sub, ok
}

// RequireAuth verifies the Bearer access token and injects the subject
// into the request context. Requests without a valid short-lived token
// are rejected with 401.
func RequireAuth(issuer *token.Issuer, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				respondWithJSON(w, logger, http.StatusUnauthorized,
					errorResponse(CodeUnauthorized, token.ErrNoToken, "Authentication required"))
				return
			}

			subject, err := issuer.Verify(raw, token.TypeAccess)
			if err != nil {
				respondWithJSON(w, logger, http.StatusUnauthorized,
					errorResponse(CodeUnauthorized, err, "Invalid or expired access token"))
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
