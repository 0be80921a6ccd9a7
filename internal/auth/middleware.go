package auth

import (
	"net/http"
	"strings"

	"github.com/sraphaz/araponga-sub002/internal/platform/httpx"
	"github.com/sraphaz/araponga-sub002/internal/shared"
)

// RequireActor rejects requests without a valid bearer token and puts
// the resolved actor id on the request context.
func (s *Service) RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing bearer token")
			return
		}
		userID, err := s.Resolve(r.Context(), token)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
