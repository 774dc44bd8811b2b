package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/veilnet/warden/pkg/auth"
	"github.com/veilnet/warden/pkg/contextkeys"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/observability"
)

// AuthMiddleware validates bearer tokens and attaches the auth context
type AuthMiddleware struct {
	validator auth.Validator
	logger    *observability.Logger
}

// NewAuthMiddleware creates an auth middleware backed by the validator
func NewAuthMiddleware(validator auth.Validator, logger *observability.Logger) *AuthMiddleware {
	return &AuthMiddleware{validator: validator, logger: logger}
}

// Handler rejects requests without a valid bearer token and stores the
// resolved AuthContext for downstream handlers
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httputil.WriteUnauthorized(w, "missing bearer token")
			return
		}

		user, err := m.validator.Validate(r.Context(), token)
		if err != nil {
			m.logger.WithError(err).Debug("Token validation failed")
			httputil.WriteUnauthorized(w, "invalid token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), &auth.AuthContext{User: user, Token: token})
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext returns the auth context attached by Handler, or nil
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
