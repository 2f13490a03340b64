package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/httputil"
	"labtrail/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	UserID string
	Role   string
}

// Authenticate resolves a bearer token into a caller identity.
//
// Requests without an Authorization header pass through anonymously; routes
// that need a caller reject them at the access guard. A header that is present
// but invalid is rejected here with 401.
func Authenticate(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - malformed authorization header",
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			identity, err := identityFromClaims(claims)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid claims",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithIdentity(ctx, identity)))
		})
	}
}

func identityFromClaims(claims *JWTClaims) (*domain.Identity, error) {
	userID, err := domain.ParseUserID(claims.UserID)
	if err != nil {
		return nil, err
	}
	role, err := domain.ParseRole(claims.Role)
	if err != nil {
		return nil, err
	}
	return &domain.Identity{ID: userID, Role: role}, nil
}
