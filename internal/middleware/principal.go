package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/unclebandit/followup-engine/internal/response"
)

// PrincipalHeader carries the account id set by the upstream auth layer.
const PrincipalHeader = "X-Principal-ID"

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the authenticated principal, or "".
func PrincipalFrom(ctx context.Context) string {
	p, _ := ctx.Value(principalKey{}).(string)
	return p
}

// RequirePrincipal rejects requests without a principal with 401.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := strings.TrimSpace(r.Header.Get(PrincipalHeader))
		if principal == "" {
			response.WriteProblem(w, response.Problem{
				Status: http.StatusUnauthorized,
				Detail: "missing " + PrincipalHeader + " header",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}
