package middleware

import (
	"context"
	"net/http"
	"strings"

	goMFA "github.com/MrEthical07/goMFA"
)

type authResultContextKey struct{}

// AuthResultFromContext describes the authresultfromcontext operation and its observable behavior.
//
// AuthResultFromContext may return an error when input validation, dependency calls, or security checks fail.
// AuthResultFromContext does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func AuthResultFromContext(ctx context.Context) (*goMFA.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*goMFA.AuthResult)
	return res, ok
}

// Guard describes the guard operation and its observable behavior.
//
// Guard may return an error when input validation, dependency calls, or security checks fail.
// Guard does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func Guard(engine *goMFA.Engine, routeMode goMFA.RouteMode) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.Validate(r.Context(), token, routeMode)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
