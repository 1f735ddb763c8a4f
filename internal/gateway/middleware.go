package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/huntrelay/huntrelay/internal/ids"
)

type ctxKey string

const ctxKeyAnalyst ctxKey = "analyst"

// requireAuth enforces spec.md §6's "every HTTP and WS call carries a
// bearer token" rule, delegating verification to the pluggable
// auth.Verifier.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, apiError{status: http.StatusUnauthorized, code: "auth_required", message: "missing bearer token"})
			return
		}

		claims, err := s.issuer.Verify(token)
		if err != nil {
			writeError(w, apiError{status: http.StatusUnauthorized, code: "auth_required", message: err.Error()})
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAnalyst, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func analystFromContext(ctx context.Context) ids.AnalystID {
	if id, ok := ctx.Value(ctxKeyAnalyst).(ids.AnalystID); ok {
		return id
	}
	return ""
}
